package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"
	"unicode"

	vecutil "github.com/mechlib/catalog/pkg/embeddings"
)

// ErrEmptyInput is returned for blank input text.
var ErrEmptyInput = errors.New("embeddings: input text is empty")

// MockClient is an offline embedder for tests and local runs. It hashes each lower-cased token into
// one signed dimension, so texts sharing words land close together in cosine distance.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock client with 768 dimensions.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: 768}
}

// NewMockClientWithDimensions creates a mock client with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = 768
	}

	return &MockClient{dimensions: dimensions}
}

// CreateEmbedding returns a deterministic unit vector for input.
func (c *MockClient) CreateEmbedding(_ context.Context, input string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}

	vec := make([]float32, c.dimensions)

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint64(sum[:8]) % uint64(c.dimensions)

		if sum[8]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	vecutil.NormalizeL2(vec)

	return vec, nil
}

var _ Client = (*MockClient)(nil)
