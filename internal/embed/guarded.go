package embed

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// GuardOptions configures a GuardedEmbedder.
type GuardOptions struct {
	// Timeout bounds each provider call. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64

	// MaxFailures consecutive failed calls open the circuit.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a trial call.
	ResetTimeout time.Duration

	Retry kberrors.RetryConfig
}

// DefaultGuardOptions returns the guard used for network providers.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		Timeout:      DefaultTimeout,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		Retry:        kberrors.DefaultRetryConfig(),
	}
}

// GuardedEmbedder bounds every call to inner with a timeout and retries
// transient failures. Failures are reported as embedding errors and never
// block the caller past the timeout.
type GuardedEmbedder struct {
	inner   Embedder
	opts    GuardOptions
	limiter *rate.Limiter
	breaker *kberrors.CircuitBreaker
}

var _ Embedder = (*GuardedEmbedder)(nil)

// NewGuardedEmbedder wraps inner.
func NewGuardedEmbedder(inner Embedder, opts GuardOptions) *GuardedEmbedder {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	g := &GuardedEmbedder{
		inner: inner,
		opts:  opts,
		breaker: kberrors.NewCircuitBreaker("embed:"+inner.ModelName(),
			kberrors.WithMaxFailures(opts.MaxFailures),
			kberrors.WithResetTimeout(opts.ResetTimeout)),
	}
	if opts.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return g
}

// Embed embeds one text under the guard.
func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.call(ctx, 1, func(callCtx context.Context) ([][]float32, error) {
		v, err := g.inner.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts under the guard as one provider call.
func (g *GuardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return g.call(ctx, len(texts), func(callCtx context.Context) ([][]float32, error) {
		return g.inner.EmbedBatch(callCtx, texts)
	})
}

func (g *GuardedEmbedder) call(ctx context.Context, want int, fn func(context.Context) ([][]float32, error)) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, kberrors.EmbeddingError("rate limiter wait interrupted", err)
		}
	}

	vecs, err := kberrors.CircuitCall(g.breaker, func() ([][]float32, error) {
		return kberrors.RetryWithResult(ctx, g.opts.Retry, func() ([][]float32, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()

			out, err := fn(callCtx)
			if err != nil {
				if callCtx.Err() != nil {
					err = callCtx.Err()
				}
				return nil, kberrors.EmbeddingError(fmt.Sprintf("%s embedding failed", g.inner.ModelName()), err)
			}
			return out, g.checkShape(out, want)
		})
	})
	if err != nil {
		if _, ok := kberrors.As(err); !ok {
			err = kberrors.EmbeddingError(fmt.Sprintf("%s embedding failed", g.inner.ModelName()), err)
		}
		return nil, err
	}
	return vecs, nil
}

func (g *GuardedEmbedder) checkShape(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), want), nil)
	}
	dims := g.inner.Dimensions()
	for _, v := range vecs {
		if len(v) != dims {
			return kberrors.New(kberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", dims, len(v)), nil)
		}
	}
	return nil
}

// Breaker exposes the circuit breaker state for diagnostics.
func (g *GuardedEmbedder) Breaker() *kberrors.CircuitBreaker { return g.breaker }

func (g *GuardedEmbedder) Dimensions() int                    { return g.inner.Dimensions() }
func (g *GuardedEmbedder) ModelName() string                  { return g.inner.ModelName() }
func (g *GuardedEmbedder) Available(ctx context.Context) bool { return g.inner.Available(ctx) }
func (g *GuardedEmbedder) Close() error                       { return g.inner.Close() }
