// Package googleai embeds catalog text with the Gemini embeddings API.
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	vecutil "github.com/mechlib/catalog/pkg/embeddings"
)

var (
	// ErrEmptyInput is returned for blank input; the catalog never embeds an empty record.
	ErrEmptyInput = errors.New("googleai: input text is empty")
	// ErrBadDimensions is returned when the configured or returned width does not match the vector column.
	ErrBadDimensions = errors.New("googleai: embedding dimensions do not match")
)

const (
	defaultModel = "gemini-embedding-001"

	// TaskSemanticSimilarity suits the catalog: queries and canonical texts are compared symmetrically.
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
)

// Client embeds text with the Gemini API.
type Client struct {
	genai      *genai.Client
	model      string
	dimensions int32
	taskType   string
	baseURL    string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the vector width. It must equal the image_records.embedding column width.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		if dim > 0 && dim <= math.MaxInt32 {
			c.dimensions = int32(dim)
		}
	}
}

// WithModel overrides the embedding model. Empty keeps gemini-embedding-001.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTaskType overrides the Gemini task type (e.g. RETRIEVAL_DOCUMENT). Empty lets the API choose.
func WithTaskType(taskType string) ClientOption {
	return func(c *Client) { c.taskType = taskType }
}

// WithBaseURL routes requests through a proxy or regional endpoint. Empty keeps the default.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// NewClient creates a client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	c := &Client{model: defaultModel, taskType: TaskSemanticSimilarity}
	for _, opt := range opts {
		opt(c)
	}

	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	c.genai = gc

	return c, nil
}

// CreateEmbedding embeds input at the configured width. Gemini only normalizes full-size vectors,
// so truncated outputs are scaled to unit length here to keep cosine distances comparable.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, fmt.Errorf("%w: no positive width configured", ErrBadDimensions)
	}

	dims := c.dimensions

	resp, err := c.genai.Models.EmbedContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(input, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &dims, TaskType: c.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings (%s): %w", c.model, err)
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: response carried no vector", ErrBadDimensions)
	}

	values := resp.Embeddings[0].Values
	if len(values) != int(c.dimensions) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadDimensions, len(values), c.dimensions)
	}

	vec := make([]float32, len(values))
	copy(vec, values)
	vecutil.NormalizeL2(vec)

	return vec, nil
}
