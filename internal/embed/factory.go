package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/saagar210/AssistSupport-sub002/internal/config"
)

// Option adjusts NewFromConfig.
type Option func(*factoryOptions)

type factoryOptions struct {
	token string
}

// WithToken sets the provider API token.
func WithToken(token string) Option {
	return func(o *factoryOptions) { o.token = token }
}

// NewFromConfig builds the provider stack described by cfg:
// cache over guard over provider. A zero CacheSize disables the cache.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig, opts ...Option) (Embedder, error) {
	var fo factoryOptions
	for _, opt := range opts {
		opt(&fo)
	}

	var provider Embedder

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic, "":
		provider = NewStaticEmbedder()
	case ProviderOllama:
		o, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Token:      fo.token,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the offline provider: embeddings.provider: static", err)
		}
		provider = o
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}

	guard := DefaultGuardOptions()
	if cfg.Timeout > 0 {
		guard.Timeout = cfg.Timeout
	}
	if cfg.MaxFailures > 0 {
		guard.MaxFailures = cfg.MaxFailures
	}
	guard.RequestsPerSecond = cfg.RequestsPerSecond

	var e Embedder = NewGuardedEmbedder(provider, guard)
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
