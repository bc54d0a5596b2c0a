package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQueryCache mirrors how the search service keys query embeddings.
func newQueryCache(t *testing.T, size int) *LoaderCache[string, []float32] {
	t.Helper()

	c, err := NewLoaderCache[string, []float32](size, strings.ToLower)
	require.NoError(t, err)

	return c
}

func countingLoader(calls *atomic.Int32) func(context.Context, string) ([]float32, error) {
	return func(_ context.Context, q string) ([]float32, error) {
		calls.Add(1)

		return []float32{float32(len(q)), 1}, nil
	}
}

func TestLoaderCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	c := newQueryCache(t, 10)

	var calls atomic.Int32

	vec, hit, err := c.GetWithStats(ctx, "spur gear", countingLoader(&calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []float32{9, 1}, vec)

	vec, hit, err = c.GetWithStats(ctx, "SPUR GEAR", countingLoader(&calls))
	require.NoError(t, err)
	assert.True(t, hit, "keys are compared through keyToString")
	assert.Equal(t, []float32{9, 1}, vec)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestLoaderCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	c := newQueryCache(t, 10)

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
		once    sync.Once
	)

	load := func(_ context.Context, _ string) ([]float32, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release

		return []float32{1}, nil
	}

	const callers = 8

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := c.Get(ctx, "worm gear", load)
		assert.NoError(t, err)
	}()

	<-started

	for range callers - 1 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.Get(ctx, "worm gear", load)
			assert.NoError(t, err)
		}()
	}

	// Give the callers time to join the in-flight load before it completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestLoaderCache_FailedLoadsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := newQueryCache(t, 10)
	errProvider := errors.New("provider down")

	_, err := c.Get(ctx, "cam", func(context.Context, string) ([]float32, error) { return nil, errProvider })
	require.ErrorIs(t, err, errProvider)
	assert.Zero(t, c.Len())

	var calls atomic.Int32

	_, hit, err := c.GetWithStats(ctx, "cam", countingLoader(&calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoaderCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := newQueryCache(t, 2)

	var calls atomic.Int32

	for _, q := range []string{"gear", "cam", "gear", "spring"} {
		_, err := c.Get(ctx, q, countingLoader(&calls))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())

	_, hit, err := c.GetWithStats(ctx, "gear", countingLoader(&calls))
	require.NoError(t, err)
	assert.True(t, hit, "recently used entry survives")

	_, hit, err = c.GetWithStats(ctx, "cam", countingLoader(&calls))
	require.NoError(t, err)
	assert.False(t, hit, "least recently used entry was evicted")
}

func TestNewLoaderCache_RejectsNonPositiveSize(t *testing.T) {
	_, err := NewLoaderCache[string, []float32](0, strings.ToLower)
	require.Error(t, err)
}
