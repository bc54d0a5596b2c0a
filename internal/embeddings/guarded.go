package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrProviderUnavailable is returned while the circuit breaker is open.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// GuardOptions tune the breaker and limiter around a provider.
type GuardOptions struct {
	Name string
	// RequestsPerSecond caps outbound calls. Zero disables the limiter.
	RequestsPerSecond float64
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// GuardedClient wraps a provider with a per-call timeout, a rate limiter and a circuit breaker.
// It never retries; callers see the first failure.
type GuardedClient struct {
	next    Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuardedClient wraps next.
func NewGuardedClient(next Client, opts GuardOptions) *GuardedClient {
	if opts.Name == "" {
		opts.Name = "embeddings"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// A caller giving up is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedding circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := max(1, int(opts.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &GuardedClient{next: next, breaker: breaker, limiter: limiter, timeout: opts.Timeout}
}

// CreateEmbedding waits for a rate-limit token and calls the provider through the breaker.
func (g *GuardedClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx

		if g.timeout > 0 {
			var cancel context.CancelFunc

			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		return g.next.CreateEmbedding(callCtx, input)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}

		return nil, err
	}

	return out.([]float32), nil
}

var _ Client = (*GuardedClient)(nil)
