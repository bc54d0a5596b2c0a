package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mechlib/catalog/internal/models"
)

// UpdateMarkersRepository persists write-ahead markers for in-flight updates.
// A marker exists from before the blob is rewritten until the index row is replaced,
// so a crash in between leaves a marker behind for the reconciler.
type UpdateMarkersRepository struct {
	db *pgxpool.Pool
}

// NewUpdateMarkersRepository creates a new update markers repository.
func NewUpdateMarkersRepository(db *pgxpool.Pool) *UpdateMarkersRepository {
	return &UpdateMarkersRepository{db: db}
}

// Begin records that an update with the given merged fields started for s3URI.
// An existing marker for the same key is overwritten.
func (r *UpdateMarkersRepository) Begin(ctx context.Context, s3URI string, fields models.ImageFields) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal marker fields: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO image_update_markers (s3_uri, fields, started_at)
		VALUES ($1, $2, now())
		ON CONFLICT (s3_uri) DO UPDATE SET fields = EXCLUDED.fields, started_at = now()`,
		s3URI, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write update marker: %w", err)
	}

	return nil
}

// Clear removes the marker for s3URI. Clearing a missing marker is not an error.
func (r *UpdateMarkersRepository) Clear(ctx context.Context, s3URI string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM image_update_markers WHERE s3_uri = $1`, s3URI); err != nil {
		return fmt.Errorf("failed to clear update marker: %w", err)
	}

	return nil
}

// ListStale returns markers started before olderThan, oldest first.
func (r *UpdateMarkersRepository) ListStale(
	ctx context.Context, olderThan time.Time, limit int,
) ([]models.UpdateMarker, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s3_uri, fields, started_at
		FROM image_update_markers
		WHERE started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list update markers: %w", err)
	}
	defer rows.Close()

	var markers []models.UpdateMarker

	for rows.Next() {
		var (
			m       models.UpdateMarker
			payload []byte
		)

		if err := rows.Scan(&m.S3URI, &payload, &m.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan update marker: %w", err)
		}

		if err := json.Unmarshal(payload, &m.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode update marker fields: %w", err)
		}

		markers = append(markers, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating update markers: %w", err)
	}

	return markers, nil
}
