// Package vector provides the embedding vector type and the embedder interface.
package vector

import "context"

// Embedder turns text into a semantic vector.
// The llm.EmbeddingClient implements this interface.
type Embedder interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) (Vector, error)

	// ModelVersion returns the embedding model name.
	ModelVersion() string
}
