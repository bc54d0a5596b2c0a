// Package embeddings selects and guards the text embedding provider used for catalog text and queries.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/mechlib/catalog/internal/googleai"
	"github.com/mechlib/catalog/internal/openai"
)

// Client turns text into a fixed-dimension vector.
type Client interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown embedding provider")

// Options select and configure a provider.
type Options struct {
	Provider   string
	APIKey     string
	Model      string
	Dimensions int
	// BaseURL overrides the provider endpoint (gateway, proxy). Ignored by the mock.
	BaseURL    string
}

// New returns the provider client named by opts.Provider. The result is not guarded; wrap it with
// NewGuardedClient for production use.
func New(ctx context.Context, opts Options) (Client, error) {
	switch opts.Provider {
	case ProviderOpenAI:
		return openai.NewClient(opts.APIKey,
			openai.WithDimensions(opts.Dimensions),
			openai.WithModel(opts.Model),
			openai.WithBaseURL(opts.BaseURL),
		), nil
	case ProviderGoogle:
		client, err := googleai.NewClient(ctx, opts.APIKey,
			googleai.WithDimensions(opts.Dimensions),
			googleai.WithModel(opts.Model),
			googleai.WithBaseURL(opts.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	case ProviderMock:
		return NewMockClientWithDimensions(opts.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}
