// Package search answers queries against one namespace by running the vector
// and keyword indexes side by side and fusing their rankings with weighted
// Reciprocal Rank Fusion.
package search

import (
	"time"

	"github.com/saagar210/AssistSupport-sub002/internal/config"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
)

// MaxLimit bounds the number of results one query may ask for.
const MaxLimit = 100

// MatchSource names the index, or indexes, that returned a chunk.
type MatchSource string

const (
	MatchVector  MatchSource = "vector"
	MatchKeyword MatchSource = "keyword"
	MatchBoth    MatchSource = "both"
)

// Weights sets the relative importance of the two rankings.
type Weights struct {
	Vector  float64
	Keyword float64
}

// DefaultWeights favours semantic similarity over exact terms.
func DefaultWeights() Weights {
	return Weights{Vector: 0.6, Keyword: 0.4}
}

// IsZero reports whether neither weight is set.
func (w Weights) IsZero() bool { return w.Vector == 0 && w.Keyword == 0 }

// Options tunes one query. Zero values take the engine defaults.
type Options struct {
	// Limit is the maximum number of results (default from config, max 100).
	Limit int

	// MinScore drops results whose boosted score is lower.
	MinScore float64

	// SourceBoosts multiplies the score of chunks from a source type.
	// Missing types use 1.
	SourceBoosts map[source.Type]float64

	// Weights overrides the configured vector and keyword weights.
	Weights Weights
}

// Config holds engine defaults.
type Config struct {
	Weights     Weights
	RRFConstant int
	PartialCap  float64
	TopK        int
	MaxResults  int
	MinScore    float64
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Weights:     DefaultWeights(),
		RRFConstant: DefaultRRFConstant,
		PartialCap:  DefaultPartialCap,
		TopK:        50,
		MaxResults:  10,
	}
}

// ConfigFrom maps the search section of the application config.
func ConfigFrom(c config.SearchConfig) Config {
	cfg := Config{
		Weights:     Weights{Vector: c.VectorWeight, Keyword: c.KeywordWeight},
		RRFConstant: c.RRFConstant,
		PartialCap:  c.PartialCap,
		TopK:        c.TopK,
		MaxResults:  c.MaxResults,
		MinScore:    c.MinScore,
	}
	def := DefaultConfig()
	if cfg.Weights.IsZero() {
		cfg.Weights = def.Weights
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	return cfg
}

// Result is one ranked chunk with its provenance.
type Result struct {
	ChunkID      string
	Score        float64
	MatchSource  MatchSource
	DocumentID   string // file path or URL
	Namespace    string
	SourceType   source.Type
	Title        string
	PolicyWeight float64
	Ordinal      int
	IndexedAt    time.Time
	Excerpt      string

	// Ranks in the individual lists, 0 when absent.
	VectorRank  int
	KeywordRank int
}
