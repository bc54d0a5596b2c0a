package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/models"
)

func record(uri, text string, emb ...float32) *models.ImageRecord {
	return &models.ImageRecord{
		S3URI:         uri,
		ImageFields:   models.ImageFields{Filename: uri},
		CanonicalText: text,
		Embedding:     emb,
	}
}

func TestStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first, err := s.Upsert(ctx, record("s3://b/a.png", "gear", 1, 0))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)

	second, err := s.Upsert(ctx, record("s3://b/a.png", "pulley", 0, 1))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "overwrite keeps the id")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, s.Len())

	got, err := s.GetByS3URI(ctx, "s3://b/a.png")
	require.NoError(t, err)
	assert.Equal(t, "pulley", got.CanonicalText)
}

func TestStore_GetByS3URI_NotFound(t *testing.T) {
	_, err := NewStore().GetByS3URI(context.Background(), "s3://b/missing.png")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_Replace(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps row under a new id", func(t *testing.T) {
		s := NewStore()
		old, err := s.Upsert(ctx, record("s3://b/a.png", "gear", 1, 0))
		require.NoError(t, err)

		replaced, err := s.Replace(ctx, old.ID, record("s3://b/a.png", "cam follower", 0, 1))
		require.NoError(t, err)

		assert.NotEqual(t, old.ID, replaced.ID)
		assert.Equal(t, old.CreatedAt, replaced.CreatedAt)
		assert.Equal(t, 1, s.Len())

		deleted, err := s.DeleteByID(ctx, old.ID)
		require.NoError(t, err)
		assert.False(t, deleted, "old id is gone")
	})

	t.Run("conflict when old row vanished", func(t *testing.T) {
		s := NewStore()
		old, err := s.Upsert(ctx, record("s3://b/a.png", "gear", 1, 0))
		require.NoError(t, err)

		_, err = s.DeleteByS3URI(ctx, old.S3URI)
		require.NoError(t, err)

		_, err = s.Replace(ctx, old.ID, record("s3://b/a.png", "cam", 0, 1))
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.Equal(t, 0, s.Len())
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Upsert(ctx, record("s3://b/a.png", "gear", 1, 0))
	require.NoError(t, err)

	deleted, err := s.DeleteByS3URI(ctx, "s3://b/a.png")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteByS3URI(ctx, "s3://b/a.png")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_KeywordSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	gear, _ := s.Upsert(ctx, record("s3://b/gear.png", "spur gear Tags: [materials:steel]", 1, 0))
	pulley, _ := s.Upsert(ctx, record("s3://b/pulley.png", "pulley Tags: [materials:aluminum]", 0, 1))
	_, _ = s.Upsert(ctx, record("s3://b/cam.png", "cam Tags: [materials:nylon]", 1, 1))

	t.Run("matches on terms", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, "steel", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, gear.ID, hits[0].ID)
		assert.Greater(t, hits[0].Rank, 0.0)
	})

	t.Run("stop words only yields nothing", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, "the and of", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("more matching terms rank higher", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, "pulley aluminum gear", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, pulley.ID, hits[0].ID)
		assert.Equal(t, gear.ID, hits[1].ID)
	})

	t.Run("respects limit", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, "pulley aluminum gear", 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestStore_VectorSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	near, _ := s.Upsert(ctx, record("s3://b/near.png", "near", 1, 0))
	mid, _ := s.Upsert(ctx, record("s3://b/mid.png", "mid", 1, 1))
	far, _ := s.Upsert(ctx, record("s3://b/far.png", "far", -1, 0))

	hits, err := s.VectorSearch(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, near.ID, hits[0].Record.ID)
	assert.Equal(t, mid.ID, hits[1].Record.ID)
	assert.Equal(t, far.ID, hits[2].Record.ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.InDelta(t, 2.0, hits[2].Distance, 1e-9)
	assert.Nil(t, hits[0].Record.Embedding)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0.0, CosineDistance([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2.0, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1}, []float32{1, 0}), 1e-9)
}

func TestStore_Markers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.SetClock(func() time.Time { return base })
	require.NoError(t, s.Begin(ctx, "s3://b/old.png", models.ImageFields{Filename: "old.png"}))

	s.SetClock(func() time.Time { return base.Add(time.Hour) })
	require.NoError(t, s.Begin(ctx, "s3://b/new.png", models.ImageFields{Filename: "new.png"}))

	stale, err := s.ListStale(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s3://b/old.png", stale[0].S3URI)
	assert.Equal(t, "old.png", stale[0].Fields.Filename)

	require.NoError(t, s.Clear(ctx, "s3://b/old.png"))
	assert.False(t, s.HasMarker("s3://b/old.png"))
	assert.True(t, s.HasMarker("s3://b/new.png"))
}
