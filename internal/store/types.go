// Package store persists the knowledge base: an HNSW vector index and a BM25
// keyword index per namespace, plus an encrypted SQLite metadata store that
// holds settings, document fingerprints and chunk text.
package store

import (
	"context"
	"fmt"
)

// Document is a unit of text handed to a keyword index.
type Document struct {
	ID      string // Chunk ID
	Content string
}

// BM25Result is a single keyword hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats describes a keyword index.
type IndexStats struct {
	DocumentCount int
}

// BM25Index provides keyword search with BM25 scoring.
type BM25Index interface {
	// Index adds documents. An existing ID is replaced.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching any query term, best first.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns every indexed ID, for consistency checks.
	AllIDs() ([]string, error)

	Stats() *IndexStats
	Save(path string) error
	Close() error
}

// BM25Config configures keyword indexing.
type BM25Config struct {
	// StopWords are dropped from documents and queries.
	StopWords []string

	// MinTokenLength is the shortest indexed token (digits are always kept).
	MinTokenLength int
}

// DefaultBM25Config returns the default keyword configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "to", "was", "were", "will", "with", "this", "these", "those",
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Similarity in [0, 1]
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions int

	// Metric is "cos" (default) or "l2".
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides nearest-neighbor search.
type VectorStore interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors of query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every stored ID, for consistency checks.
	AllIDs() []string

	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (the embedding model changed; run 'assistkb ingest --full')", e.Expected, e.Got)
}
