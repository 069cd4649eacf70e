package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/AssistSupport-sub002/internal/config"
)

func TestNewFromConfig_StaticWithCache(t *testing.T) {
	cfg := config.NewConfig().Embeddings

	e, err := NewFromConfig(context.Background(), cfg)

	require.NoError(t, err)
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)
	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static", e.ModelName())
}

func TestNewFromConfig_NoCache(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.CacheSize = 0

	e, err := NewFromConfig(context.Background(), cfg)

	require.NoError(t, err)
	_, guarded := e.(*GuardedEmbedder)
	assert.True(t, guarded)
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "word2vec"

	_, err := NewFromConfig(context.Background(), cfg)

	assert.Error(t, err)
}
