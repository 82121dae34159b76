// Package embeddings provides text-embedding providers used by the vector
// store handlers to turn documents and queries into vectors.
package embeddings

import (
	"context"
	"fmt"
)

// Model contains metadata about the embedding model.
type Model struct {
	Name       string
	Dimensions int
}

// Provider defines the interface for generating embeddings.
type Provider interface {
	// GenerateEmbedding creates an embedding vector for the given text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Model returns information about the embedding model being used.
	Model() Model
}

// New constructs an embedding provider from a flat parameter map, as stored
// in the settings file alongside the owning vector handler. The "embedder"
// key selects the provider; the remaining keys are provider-specific.
func New(params map[string]string) (Provider, error) {
	switch params["embedder"] {
	case "", "openai":
		return NewOpenAI(params["embedder_token"], params["embedder_model"], params["embedder_base_url"]), nil
	case "ollama":
		return NewOllama(params["embedder_host"], params["embedder_port"], params["embedder_model"])
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", params["embedder"])
	}
}
