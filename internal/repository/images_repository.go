// Package repository provides Postgres data access for image records and update markers.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/models"
)

// ImagesRepository stores image records. The same table serves as the keyword index
// (trigger-maintained search_vector) and the vector index (embedding column).
type ImagesRepository struct {
	db       *pgxpool.Pool
	language string
}

// NewImagesRepository creates a repository that ranks keyword queries with the given
// text-search configuration (e.g. "english").
func NewImagesRepository(db *pgxpool.Pool, language string) *ImagesRepository {
	return &ImagesRepository{db: db, language: language}
}

const imageColumns = `id, s3_uri, metadata, canonical_text, embedding, created_at, updated_at`

// Upsert inserts the record or, when a row with the same s3_uri exists, overwrites its metadata,
// canonical text and embedding in place. The row keeps its id and created_at on overwrite.
func (r *ImagesRepository) Upsert(ctx context.Context, rec *models.ImageRecord) (*models.ImageRecord, error) {
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.Must(uuid.NewV7())
	}

	meta, err := json.Marshal(rec.Metadata())
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	out := *rec

	err = r.db.QueryRow(ctx, `
		INSERT INTO image_records (id, s3_uri, metadata, canonical_text, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (s3_uri) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			canonical_text = EXCLUDED.canonical_text,
			embedding = EXCLUDED.embedding,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		id, rec.S3URI, meta, rec.CanonicalText, pgvector.NewVector(rec.Embedding),
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert image record: %w", err)
	}

	return &out, nil
}

// GetByS3URI returns the record with the exact s3_uri.
func (r *ImagesRepository) GetByS3URI(ctx context.Context, s3URI string) (*models.ImageRecord, error) {
	rec, err := scanImageRecord(r.db.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM image_records WHERE s3_uri = $1`, s3URI))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("image record", "no image record for s3_uri "+s3URI)
		}

		return nil, fmt.Errorf("failed to get image record: %w", err)
	}

	return rec, nil
}

// Replace deletes the old row and inserts rec as a new row in one transaction.
// The old row is matched by oldID when set, otherwise by rec.S3URI. If no old row exists
// (e.g. a concurrent delete won), nothing is written and a ConflictError is returned.
func (r *ImagesRepository) Replace(
	ctx context.Context, oldID uuid.UUID, rec *models.ImageRecord,
) (*models.ImageRecord, error) {
	meta, err := json.Marshal(rec.Metadata())
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var createdAt time.Time

	if oldID != uuid.Nil {
		err = tx.QueryRow(ctx, `DELETE FROM image_records WHERE id = $1 RETURNING created_at`, oldID).Scan(&createdAt)
	} else {
		err = tx.QueryRow(ctx, `DELETE FROM image_records WHERE s3_uri = $1 RETURNING created_at`, rec.S3URI).Scan(&createdAt)
	}

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflictError("image record for " + rec.S3URI + " was removed during the update")
		}

		return nil, fmt.Errorf("failed to delete old image record: %w", err)
	}

	out := *rec
	out.ID = uuid.Must(uuid.NewV7())

	err = tx.QueryRow(ctx, `
		INSERT INTO image_records (id, s3_uri, metadata, canonical_text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		out.ID, rec.S3URI, meta, rec.CanonicalText, pgvector.NewVector(rec.Embedding), createdAt,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert replacement image record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit replace: %w", err)
	}

	return &out, nil
}

// DeleteByID removes the row with the given primary key. Reports whether a row was removed.
func (r *ImagesRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM image_records WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete image record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteByS3URI removes the row with the exact s3_uri. Reports whether a row was removed.
func (r *ImagesRepository) DeleteByS3URI(ctx context.Context, s3URI string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM image_records WHERE s3_uri = $1`, s3URI)
	if err != nil {
		return false, fmt.Errorf("failed to delete image record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// KeywordSearch ranks records by ts_rank against a web-search style query, best first.
// Equal ranks are ordered by insertion (created_at, then the time-ordered id).
func (r *ImagesRepository) KeywordSearch(ctx context.Context, query string, limit int) ([]models.KeywordHit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, ts_rank(search_vector, q) AS rank
		FROM image_records, websearch_to_tsquery($1::regconfig, $2) AS q
		WHERE search_vector @@ q
		ORDER BY rank DESC, created_at ASC, id ASC
		LIMIT $3`,
		r.language, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	hits := make([]models.KeywordHit, 0, limit)

	for rows.Next() {
		var (
			hit  models.KeywordHit
			rank float32
		)

		if err := rows.Scan(&hit.ID, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan keyword hit: %w", err)
		}

		hit.Rank = float64(rank)
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword hits: %w", err)
	}

	return hits, nil
}

// VectorSearch returns the nearest records by cosine distance (0 identical, 2 opposite), nearest first.
// Equal distances are ordered by id.
func (r *ImagesRepository) VectorSearch(
	ctx context.Context, embedding []float32, limit int,
) ([]models.VectorHit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, s3_uri, metadata, canonical_text, created_at, updated_at, embedding <=> $1 AS distance
		FROM image_records
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	hits := make([]models.VectorHit, 0, limit)

	for rows.Next() {
		var (
			hit  models.VectorHit
			meta []byte
		)

		rec := &hit.Record
		if err := rows.Scan(&rec.ID, &rec.S3URI, &meta, &rec.CanonicalText,
			&rec.CreatedAt, &rec.UpdatedAt, &hit.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}

		if err := decodeMetadata(meta, rec); err != nil {
			return nil, err
		}

		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vector hits: %w", err)
	}

	return hits, nil
}

func scanImageRecord(row pgx.Row) (*models.ImageRecord, error) {
	var (
		rec  models.ImageRecord
		meta []byte
		vec  pgvector.Vector
	)

	if err := row.Scan(&rec.ID, &rec.S3URI, &meta, &rec.CanonicalText, &vec, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap and map pgx.ErrNoRows
	}

	if err := decodeMetadata(meta, &rec); err != nil {
		return nil, err
	}

	rec.Embedding = vec.Slice()

	return &rec, nil
}

// decodeMetadata fills the structured fields from the metadata document. The s3_uri column wins
// over any copy inside the document.
func decodeMetadata(raw []byte, rec *models.ImageRecord) error {
	var meta models.ImageMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("failed to decode image metadata: %w", err)
	}

	rec.ImageFields = meta.ImageFields

	return nil
}
