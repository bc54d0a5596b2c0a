package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// SchemaOptions parameterize the catalog schema.
type SchemaOptions struct {
	// Dimensions is the fixed length of the embedding column.
	Dimensions int
	// Language is the text-search configuration used by the search_vector trigger (e.g. "english").
	Language string
}

var (
	// ErrInvalidSchemaOptions is returned when SchemaOptions cannot be rendered into DDL.
	ErrInvalidSchemaOptions = errors.New("invalid schema options")
	// ErrDimensionMismatch is returned when the existing embedding column has another dimension.
	ErrDimensionMismatch = errors.New("embedding column dimension mismatch")
)

var languageName = regexp.MustCompile(`^[a-z_]+$`)

// SchemaStatements returns the idempotent DDL for the catalog, in execution order.
func SchemaStatements(opts SchemaOptions) ([]string, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidSchemaOptions)
	}

	if !languageName.MatchString(opts.Language) {
		return nil, fmt.Errorf("%w: language %q", ErrInvalidSchemaOptions, opts.Language)
	}

	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS image_records (
			id             uuid PRIMARY KEY,
			s3_uri         text NOT NULL UNIQUE,
			metadata       jsonb NOT NULL,
			canonical_text text NOT NULL,
			embedding      vector(%d) NOT NULL,
			search_vector  tsvector,
			created_at     timestamptz NOT NULL DEFAULT now(),
			updated_at     timestamptz NOT NULL DEFAULT now()
		)`, opts.Dimensions),
		// search_vector is derived from canonical_text on every write so callers never maintain it.
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION image_records_search_vector() RETURNS trigger AS $$
		BEGIN
			NEW.search_vector := to_tsvector('%s'::regconfig, coalesce(NEW.canonical_text, ''));
			RETURN NEW;
		END
		$$ LANGUAGE plpgsql`, opts.Language),
		`DROP TRIGGER IF EXISTS image_records_search_vector_trg ON image_records`,
		`CREATE TRIGGER image_records_search_vector_trg
			BEFORE INSERT OR UPDATE ON image_records
			FOR EACH ROW EXECUTE FUNCTION image_records_search_vector()`,
		`CREATE INDEX IF NOT EXISTS image_records_search_vector_idx ON image_records USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS image_records_embedding_hnsw_idx
			ON image_records USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS image_update_markers (
			s3_uri     text PRIMARY KEY,
			fields     jsonb NOT NULL,
			started_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS image_update_markers_started_at_idx ON image_update_markers (started_at)`,
	}, nil
}

// Bootstrap creates the vector extension, tables, trigger and indexes if missing, then checks that
// an existing embedding column has the configured dimension.
func Bootstrap(ctx context.Context, databaseURL string, opts SchemaOptions) error {
	stmts, err := SchemaStatements(opts)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect for schema bootstrap: %w", err)
	}

	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Warn("schema bootstrap: close connection", "error", closeErr)
		}
	}()

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	// For pgvector columns atttypmod holds the declared dimension.
	var dims int
	err = conn.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'image_records'::regclass AND attname = 'embedding'`).Scan(&dims)
	if err != nil {
		return fmt.Errorf("failed to read embedding column type: %w", err)
	}

	if dims != opts.Dimensions {
		return fmt.Errorf("%w: column has %d, configured %d", ErrDimensionMismatch, dims, opts.Dimensions)
	}

	slog.Info("schema ready", "dimensions", opts.Dimensions, "language", opts.Language)

	return nil
}
