package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/canonical"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/pkg/database"
)

const testDimensions = 3

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("catalog"),
		tcpostgres.WithUsername("catalog"),
		tcpostgres.WithPassword("catalog"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(ctx, dsn, database.SchemaOptions{Dimensions: testDimensions, Language: "english"})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}

func newRecord(uri string, fields models.ImageFields, emb []float32) *models.ImageRecord {
	fields.Filename = uri[len("s3://bucket/"):]

	return &models.ImageRecord{
		S3URI:         uri,
		ImageFields:   fields,
		CanonicalText: canonical.Build(fields),
		Embedding:     emb,
	}
}

func TestImagesRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImagesRepository(db, "english")
	markers := NewUpdateMarkersRepository(db)
	ctx := context.Background()

	gear, err := repo.Upsert(ctx, newRecord("s3://bucket/gear.png",
		models.ImageFields{Description: "spur gear", Materials: []string{"steel"}}, []float32{1, 0, 0}))
	require.NoError(t, err)

	pulley, err := repo.Upsert(ctx, newRecord("s3://bucket/pulley.png",
		models.ImageFields{Description: "timing pulley", Materials: []string{"aluminum"}}, []float32{0, 1, 0}))
	require.NoError(t, err)

	t.Run("upsert on same s3_uri keeps one row and the id", func(t *testing.T) {
		again, err := repo.Upsert(ctx, newRecord("s3://bucket/gear.png",
			models.ImageFields{Description: "spur gear", Materials: []string{"steel"}}, []float32{1, 0, 0}))
		require.NoError(t, err)
		assert.Equal(t, gear.ID, again.ID)

		var n int
		require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM image_records WHERE s3_uri = $1`, gear.S3URI).Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("get by s3_uri round-trips fields and embedding", func(t *testing.T) {
		got, err := repo.GetByS3URI(ctx, "s3://bucket/pulley.png")
		require.NoError(t, err)
		assert.Equal(t, pulley.ID, got.ID)
		assert.Equal(t, []string{"aluminum"}, got.Materials)
		assert.Equal(t, []float32{0, 1, 0}, got.Embedding)

		_, err = repo.GetByS3URI(ctx, "s3://bucket/missing.png")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("keyword search uses the trigger-maintained vector", func(t *testing.T) {
		hits, err := repo.KeywordSearch(ctx, "aluminum pulley", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, pulley.ID, hits[0].ID)
		assert.Greater(t, hits[0].Rank, 0.0)
	})

	t.Run("vector search orders by cosine distance", func(t *testing.T) {
		hits, err := repo.VectorSearch(ctx, []float32{1, 0.1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, gear.ID, hits[0].Record.ID)
		assert.Less(t, hits[0].Distance, hits[1].Distance)
		assert.GreaterOrEqual(t, hits[0].Distance, 0.0)
		assert.LessOrEqual(t, hits[1].Distance, 2.0)
	})

	t.Run("replace swaps the row atomically", func(t *testing.T) {
		current, err := repo.GetByS3URI(ctx, "s3://bucket/pulley.png")
		require.NoError(t, err)

		rec := newRecord("s3://bucket/pulley.png",
			models.ImageFields{Description: "idler pulley", Materials: []string{"nylon"}}, []float32{0, 0, 1})

		replaced, err := repo.Replace(ctx, current.ID, rec)
		require.NoError(t, err)
		assert.NotEqual(t, current.ID, replaced.ID)
		assert.WithinDuration(t, current.CreatedAt, replaced.CreatedAt, time.Millisecond)

		hits, err := repo.KeywordSearch(ctx, "nylon", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, replaced.ID, hits[0].ID)

		_, err = repo.Replace(ctx, current.ID, rec)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("delete reports whether a row was removed", func(t *testing.T) {
		deleted, err := repo.DeleteByS3URI(ctx, "s3://bucket/gear.png")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.DeleteByS3URI(ctx, "s3://bucket/gear.png")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = repo.DeleteByID(ctx, uuid.Must(uuid.NewV7()))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("update markers", func(t *testing.T) {
		require.NoError(t, markers.Begin(ctx, "s3://bucket/pulley.png", models.ImageFields{Filename: "pulley.png"}))

		stale, err := markers.ListStale(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "pulley.png", stale[0].Fields.Filename)

		stale, err = markers.ListStale(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)

		require.NoError(t, markers.Clear(ctx, "s3://bucket/pulley.png"))

		stale, err = markers.ListStale(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}
