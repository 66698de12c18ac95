package llm

import (
	"context"
	"fmt"

	"github.com/thebtf/newscluster/internal/vector"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// EmbeddingClient calls the embeddings endpoint.
type EmbeddingClient struct {
	*client
	model string
}

var _ vector.Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClient creates an embeddings client.
func NewEmbeddingClient(cfg Config) (*EmbeddingClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &EmbeddingClient{client: c, model: model}, nil
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) (vector.Vector, error) {
	var out embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Input: text, Model: c.model}, &out); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vector.Vector(out.Data[0].Embedding), nil
}

// ModelVersion returns the embedding model name.
func (c *EmbeddingClient) ModelVersion() string {
	return c.model
}
