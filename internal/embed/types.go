// Package embed turns chunk and query text into dense vectors.
//
// Providers are wrapped in layers: a CachedEmbedder memoizes vectors by text
// and model, and a GuardedEmbedder applies rate limiting, a per-call timeout,
// retry with backoff and a circuit breaker. A provider failure surfaces as an
// embedding error so callers can degrade the chunk to keyword-only indexing.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	// The result has the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses hash based embeddings. Offline and deterministic.
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"
)

const (
	// StaticDimensions is the vector size of the static provider.
	StaticDimensions = 256

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second
)

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
