package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

func fastGuard() GuardOptions {
	return GuardOptions{
		Timeout:      50 * time.Millisecond,
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		Retry: kberrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
			ShouldRetry:  kberrors.IsRetryable,
		},
	}
}

func TestGuardedEmbedder_RetriesTransientFailure(t *testing.T) {
	// Given: a provider that fails once, then recovers
	inner := newFakeEmbedder(4)
	inner.failures.Store(1)
	g := NewGuardedEmbedder(inner, fastGuard())

	// When: embedding
	v, err := g.Embed(context.Background(), "hello")

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Len(t, v, 4)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestGuardedEmbedder_HangingProviderTimesOut(t *testing.T) {
	// Given: a provider that never answers
	inner := newFakeEmbedder(4)
	inner.hang = true
	opts := fastGuard()
	opts.Retry.MaxRetries = 0
	g := NewGuardedEmbedder(inner, opts)

	// When: embedding
	start := time.Now()
	_, err := g.Embed(context.Background(), "hello")

	// Then: an embedding timeout is reported promptly
	require.Error(t, err)
	assert.True(t, kberrors.IsEmbedding(err))
	assert.Equal(t, kberrors.ErrCodeEmbeddingTimeout, kberrors.GetCode(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuardedEmbedder_OpensCircuitAfterRepeatedFailures(t *testing.T) {
	inner := newFakeEmbedder(4)
	inner.failures.Store(100)
	opts := fastGuard()
	opts.Retry.MaxRetries = 0
	g := NewGuardedEmbedder(inner, opts)
	ctx := context.Background()

	for range 2 {
		_, err := g.Embed(ctx, "x")
		require.Error(t, err)
	}
	calls := inner.calls.Load()

	_, err := g.Embed(ctx, "x")

	require.Error(t, err)
	assert.True(t, kberrors.IsEmbedding(err))
	assert.ErrorIs(t, err, kberrors.ErrCircuitOpen)
	assert.Equal(t, calls, inner.calls.Load(), "open circuit must not call the provider")
	assert.Equal(t, kberrors.StateOpen, g.Breaker().State())
}

func TestGuardedEmbedder_DimensionMismatchIsNotRetried(t *testing.T) {
	inner := &wrongDims{fakeEmbedder: newFakeEmbedder(4)}
	g := NewGuardedEmbedder(inner, fastGuard())

	_, err := g.Embed(context.Background(), "x")

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeDimensionMismatch, kberrors.GetCode(err))
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestGuardedEmbedder_CancelledContext(t *testing.T) {
	opts := fastGuard()
	opts.RequestsPerSecond = 0.001
	g := NewGuardedEmbedder(newFakeEmbedder(4), opts)
	ctx, cancel := context.WithCancel(context.Background())

	// The first call consumes the only token.
	_, err := g.Embed(ctx, "a")
	require.NoError(t, err)

	cancel()
	_, err = g.Embed(ctx, "b")
	assert.Error(t, err)
	assert.True(t, kberrors.IsEmbedding(err))
}

func TestGuardedEmbedder_EmptyBatch(t *testing.T) {
	inner := newFakeEmbedder(4)
	g := NewGuardedEmbedder(inner, fastGuard())

	out, err := g.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, inner.calls.Load())
}

// wrongDims reports more dimensions than it produces.
type wrongDims struct{ *fakeEmbedder }

func (w *wrongDims) Dimensions() int { return 8 }
