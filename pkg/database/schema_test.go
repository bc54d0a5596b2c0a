package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	t.Run("renders dimension and language", func(t *testing.T) {
		stmts, err := SchemaStatements(SchemaOptions{Dimensions: 768, Language: "english"})
		require.NoError(t, err)

		all := strings.Join(stmts, "\n")
		assert.Contains(t, all, "vector(768)")
		assert.Contains(t, all, "to_tsvector('english'::regconfig")
		assert.Contains(t, all, "USING hnsw (embedding vector_cosine_ops)")
		assert.Contains(t, all, "USING GIN (search_vector)")
		assert.Contains(t, all, "s3_uri         text NOT NULL UNIQUE")
		assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", stmts[0])
	})

	t.Run("rejects non-positive dimensions", func(t *testing.T) {
		_, err := SchemaStatements(SchemaOptions{Dimensions: 0, Language: "english"})
		assert.ErrorIs(t, err, ErrInvalidSchemaOptions)
	})

	t.Run("rejects language that is not a bare identifier", func(t *testing.T) {
		_, err := SchemaStatements(SchemaOptions{Dimensions: 3, Language: "english'::regconfig); --"})
		assert.ErrorIs(t, err, ErrInvalidSchemaOptions)
	})
}
