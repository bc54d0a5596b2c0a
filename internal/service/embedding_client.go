package service

import "context"

// EmbeddingClient turns canonical text (or a search query) into a vector.
// Implemented by internal/embeddings clients, usually behind embeddings.GuardedClient.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}
