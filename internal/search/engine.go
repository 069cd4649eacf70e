package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/index"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Engine runs hybrid queries over the indexes owned by an Indexer.
type Engine struct {
	ix     *index.Indexer
	config Config
	fusion *RRFFusion
}

// NewEngine returns an engine reading ix.
func NewEngine(ix *index.Indexer, cfg Config) (*Engine, error) {
	if ix == nil {
		return nil, kberrors.InternalError("search engine requires an indexer", nil)
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
	f := NewRRFFusionWith(cfg.RRFConstant, cfg.PartialCap)
	cfg.RRFConstant, cfg.PartialCap = f.K, f.PartialCap
	return &Engine{ix: ix, config: cfg, fusion: f}, nil
}

// Config returns the effective engine defaults.
func (e *Engine) Config() Config { return e.config }

// Search validates query and namespace, then returns the namespace's best
// chunks for query, highest score first. A namespace that was never indexed
// yields no results. If the query cannot be embedded the search runs on the
// keyword index alone; if the keyword index fails it runs on vectors alone.
func (e *Engine) Search(ctx context.Context, query, namespace string, opts Options) ([]Result, error) {
	q, err := validation.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	ns, err := validation.NormalizeAndValidateNamespace(namespace)
	if err != nil {
		return nil, err
	}
	opts, err = e.resolve(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	space, ok, err := e.ix.LookupSpace(ns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Result{}, nil
	}

	// Embedding happens outside the namespace read lock.
	qvec, embedErr := e.ix.Embedder().Embed(ctx, q)
	if embedErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("search_degraded",
			slog.String("namespace", ns),
			slog.String("mode", string(MatchKeyword)),
			slog.String("error", embedErr.Error()))
		qvec = nil
	}

	// Retrieval and the metadata join share one read lock, so every hit
	// resolves against the chunk set it was scored on.
	var (
		keyword []*store.BM25Result
		vector  []*store.VectorResult
		results []Result
	)
	err = space.View(func(vs store.VectorStore, kw store.BM25Index) error {
		var err error
		keyword, vector, err = e.retrieve(ctx, ns, vs, kw, q, qvec)
		if err != nil {
			return err
		}

		weights := opts.Weights
		if vector == nil {
			weights.Vector = 0
		}
		if keyword == nil {
			weights.Keyword = 0
		}
		fused := e.fusion.Fuse(keyword, vector, weights)

		results, err = e.enrich(ctx, ns, q, fused, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("search_completed",
		slog.String("namespace", ns),
		slog.Int("keyword_hits", len(keyword)),
		slog.Int("vector_hits", len(vector)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// resolve fills defaults and rejects options no query could satisfy.
func (e *Engine) resolve(opts Options) (Options, error) {
	invalid := func(field, msg string) error {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidInput, msg).WithDetail("field", field)
	}
	switch {
	case opts.Limit < 0:
		return opts, invalid("limit", "limit must not be negative")
	case math.IsNaN(opts.MinScore) || opts.MinScore < 0:
		return opts, invalid("min_score", "min_score must be a non-negative number")
	case !finiteNonNegative(opts.Weights.Vector) || !finiteNonNegative(opts.Weights.Keyword):
		return opts, invalid("weights", "weights must be non-negative numbers")
	}
	for t, b := range opts.SourceBoosts {
		if !finiteNonNegative(b) {
			return opts, invalid("source_boosts", "boost for "+string(t)+" must be a non-negative number")
		}
	}

	if opts.Limit == 0 {
		opts.Limit = e.config.MaxResults
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.MinScore == 0 {
		opts.MinScore = e.config.MinScore
	}
	if opts.Weights.IsZero() {
		opts.Weights = e.config.Weights
	}
	return opts, nil
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// retrieve runs both indexes in parallel. The caller holds the namespace
// read lock. A nil list means that index was skipped or failed; an empty one
// means it found nothing.
func (e *Engine) retrieve(ctx context.Context, ns string, vs store.VectorStore, kw store.BM25Index, q string, qvec []float32) ([]*store.BM25Result, []*store.VectorResult, error) {
	var (
		keyword    []*store.BM25Result
		vector     []*store.VectorResult
		keywordErr error
		vectorErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := kw.Search(gctx, q, e.config.TopK)
		if err != nil {
			keywordErr = err
			return nil
		}
		keyword = nonNil(res)
		return nil
	})
	if qvec != nil {
		g.Go(func() error {
			res, err := vs.Search(gctx, qvec, e.config.TopK)
			if err != nil {
				vectorErr = err
				return nil
			}
			vector = nonNilVec(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}

	if vectorErr != nil {
		var dm store.ErrDimensionMismatch
		level := slog.LevelWarn
		if errors.As(vectorErr, &dm) {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "search_degraded",
			slog.String("namespace", ns),
			slog.String("mode", string(MatchKeyword)),
			slog.String("error", vectorErr.Error()))
	}
	if keywordErr != nil {
		if vector == nil {
			return nil, nil, kberrors.New(kberrors.ErrCodeSearchFailed, "both indexes failed", keywordErr).
				WithDetail("namespace", ns)
		}
		slog.Warn("search_degraded",
			slog.String("namespace", ns),
			slog.String("mode", string(MatchVector)),
			slog.String("error", keywordErr.Error()))
	}
	return keyword, vector, nil
}

func nonNil(res []*store.BM25Result) []*store.BM25Result {
	if res == nil {
		return []*store.BM25Result{}
	}
	return res
}

func nonNilVec(res []*store.VectorResult) []*store.VectorResult {
	if res == nil {
		return []*store.VectorResult{}
	}
	return res
}

// enrich joins fused chunks with their metadata, applies boosts and the
// score floor, and orders the survivors. The caller holds the namespace read
// lock. Chunks without metadata are dropped; after a crash between the index
// and metadata writes they stay dropped until the consistency check runs.
func (e *Engine) enrich(ctx context.Context, ns, q string, fused []*FusedResult, opts Options) ([]Result, error) {
	if len(fused) == 0 {
		return []Result{}, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	details, err := e.ix.Metadata().GetChunks(ctx, ns, ids)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(q)
	results := make([]Result, 0, len(fused))
	stale := 0
	for _, f := range fused {
		d, ok := details[f.ChunkID]
		if !ok || d.Namespace != ns {
			stale++
			continue
		}
		st := source.Type(d.Document.SourceType)
		score := f.Score * policyWeight(d.Document.PolicyWeight) * boost(opts.SourceBoosts, st)
		if score < opts.MinScore {
			continue
		}
		results = append(results, Result{
			ChunkID:      f.ChunkID,
			Score:        score,
			MatchSource:  f.MatchSource(),
			DocumentID:   d.DocumentID,
			Namespace:    d.Namespace,
			SourceType:   st,
			Title:        d.Document.Title,
			PolicyWeight: d.Document.PolicyWeight,
			Ordinal:      d.Ordinal,
			IndexedAt:    d.Document.IndexedAt,
			VectorRank:   f.VectorRank,
			KeywordRank:  f.KeywordRank,
			Excerpt:      Excerpt(d.Text, terms, ExcerptRunes),
		})
	}
	if stale > 0 {
		slog.Debug("search_stale_chunks",
			slog.String("namespace", ns),
			slog.Int("count", stale))
	}

	SortResults(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func policyWeight(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}

func boost(boosts map[source.Type]float64, t source.Type) float64 {
	if b, ok := boosts[t]; ok {
		return b
	}
	return 1
}

// SortResults orders results by score, then newer documents first, then
// chunk ID.
func SortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.IndexedAt.Equal(b.IndexedAt) {
			return a.IndexedAt.After(b.IndexedAt)
		}
		return a.ChunkID < b.ChunkID
	})
}
