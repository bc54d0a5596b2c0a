package embeddings

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	createFunc func(ctx context.Context, input string) ([]float32, error)
}

func (m *mockClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	return m.createFunc(ctx, input)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return dot
}

func TestMockClient(t *testing.T) {
	c := NewMockClientWithDimensions(64)
	ctx := context.Background()

	a, err := c.CreateEmbedding(ctx, "steel spur gear")
	require.NoError(t, err)
	require.Len(t, a, 64)

	again, err := c.CreateEmbedding(ctx, "Steel  spur, gear")
	require.NoError(t, err)
	assert.Equal(t, a, again, "case and punctuation do not matter")

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}

	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	related, err := c.CreateEmbedding(ctx, "steel gear")
	require.NoError(t, err)
	unrelated, err := c.CreateEmbedding(ctx, "nylon pulley belt")
	require.NoError(t, err)
	assert.Greater(t, cosine(a, related), cosine(a, unrelated))

	_, err = c.CreateEmbedding(ctx, "  ,, ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNew(t *testing.T) {
	c, err := New(context.Background(), Options{Provider: ProviderMock, Dimensions: 8})
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	_, err = New(context.Background(), Options{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGuardedClient(t *testing.T) {
	ctx := context.Background()

	t.Run("passes through results", func(t *testing.T) {
		g := NewGuardedClient(&mockClient{createFunc: func(context.Context, string) ([]float32, error) {
			return []float32{1, 2}, nil
		}}, GuardOptions{})

		got, err := g.CreateEmbedding(ctx, "gear")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, got)
	})

	t.Run("opens after repeated failures and fails fast", func(t *testing.T) {
		var calls atomic.Int32

		g := NewGuardedClient(&mockClient{createFunc: func(context.Context, string) ([]float32, error) {
			calls.Add(1)

			return nil, errors.New("provider down")
		}}, GuardOptions{Name: "test"})

		for range 5 {
			_, err := g.CreateEmbedding(ctx, "gear")
			require.Error(t, err)
		}

		_, err := g.CreateEmbedding(ctx, "gear")
		require.ErrorIs(t, err, ErrProviderUnavailable)
		assert.Equal(t, int32(5), calls.Load())
	})

	t.Run("applies per-call timeout", func(t *testing.T) {
		g := NewGuardedClient(&mockClient{createFunc: func(ctx context.Context, _ string) ([]float32, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		}}, GuardOptions{Timeout: 10 * time.Millisecond})

		_, err := g.CreateEmbedding(ctx, "gear")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rate limiter honors cancellation", func(t *testing.T) {
		g := NewGuardedClient(&mockClient{createFunc: func(context.Context, string) ([]float32, error) {
			return []float32{1}, nil
		}}, GuardOptions{RequestsPerSecond: 0.001})

		_, err := g.CreateEmbedding(ctx, "first")
		require.NoError(t, err)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err = g.CreateEmbedding(canceled, "second")
		assert.Error(t, err)
	})
}
