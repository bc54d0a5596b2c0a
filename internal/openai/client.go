// Package openai embeds catalog text with the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

var (
	// ErrEmptyInput is returned for blank input; the catalog never embeds an empty record.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrBadDimensions is returned when the configured or returned width does not match the vector column.
	ErrBadDimensions = errors.New("openai: embedding dimensions do not match")
)

const defaultModel = openaisdk.EmbeddingModelTextEmbedding3Small

// Client embeds text with an OpenAI-compatible /embeddings endpoint.
type Client struct {
	sdk        openaisdk.Client
	model      openaisdk.EmbeddingModel
	dimensions int
	baseURL    string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the vector width. It must equal the image_records.embedding column width.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) { c.dimensions = dim }
}

// WithModel overrides the embedding model. Empty keeps text-embedding-3-small.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible gateway. Empty keeps the public API.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}

	c.sdk = openaisdk.NewClient(reqOpts...)

	return c
}

// CreateEmbedding embeds input at the configured width. text-embedding-3 vectors come back unit length.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, fmt.Errorf("%w: configured %d", ErrBadDimensions, c.dimensions)
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(input)},
		Model:          c.model,
		Dimensions:     param.NewOpt(int64(c.dimensions)),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings (%s): %w", c.model, err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: response carried no vector", ErrBadDimensions)
	}

	values := resp.Data[0].Embedding
	if len(values) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadDimensions, len(values), c.dimensions)
	}

	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}

	return vec, nil
}
