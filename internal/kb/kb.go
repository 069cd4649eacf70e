// Package kb wires the knowledge base together: the locked data directory,
// the encrypted metadata store, the embedding provider, the per-namespace
// indexes, the ingester and the search engine. Callers open one KB per data
// directory and use it from any number of goroutines.
//
// Basic usage:
//
//	cfg, _ := config.Load("")
//	k, err := kb.Open(ctx, cfg, kb.Options{})
//	if err != nil { ... }
//	defer k.Close()
//	reports, err := k.Ingest(ctx, defs, false)
//	resp, err := k.Search(ctx, api.SearchRequest{Query: "vpn", Namespace: "it"})
package kb

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/saagar210/AssistSupport-sub002/internal/api"
	"github.com/saagar210/AssistSupport-sub002/internal/chunk"
	"github.com/saagar210/AssistSupport-sub002/internal/config"
	"github.com/saagar210/AssistSupport-sub002/internal/embed"
	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/index"
	"github.com/saagar210/AssistSupport-sub002/internal/ingest"
	"github.com/saagar210/AssistSupport-sub002/internal/search"
	"github.com/saagar210/AssistSupport-sub002/internal/secrets"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Options overrides parts of the stack built from the config.
type Options struct {
	// Secrets supplies the master secret. Nil uses cfg.Store.SecretsBackend
	// with ASSISTKB_SECRET_* environment variables as fallback.
	Secrets *secrets.Manager

	// Embedder replaces the provider described by cfg.Embeddings.
	Embedder embed.Embedder

	// HTTPClient is used for URL sources.
	HTTPClient *http.Client

	// SkipRepair disables the startup consistency check.
	SkipRepair bool
}

// KB is an open knowledge base.
type KB struct {
	cfg      *config.Config
	lock     *dataDirLock
	secrets  *secrets.Manager
	meta     *store.EncryptedStore
	embedder embed.Embedder
	ownsEmb  bool
	ix       *index.Indexer
	ingester *ingest.Ingester
	engine   *search.Engine

	closeOnce sync.Once
	closeErr  error
}

// Open locks the data directory, unlocks the metadata store with the master
// secret and checks the indexes against it. A wrong secret returns an
// AuthError; a data directory held by another process returns
// ErrCodeDataDirLocked.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *KB, err error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, kberrors.ConfigError(err.Error(), err)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return nil, kberrors.StorageError("failed to create data directory", err).WithDetail("path", cfg.Paths.DataDir)
	}

	k := &KB{cfg: cfg, lock: newDataDirLock(cfg.LockPath())}
	if err := k.lock.acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = k.Close()
		}
	}()

	mgr := opts.Secrets
	if mgr == nil {
		mgr, err = secrets.NewDefaultManager(secrets.Options{
			Backend:      cfg.Store.SecretsBackend,
			FilePath:     cfg.SecretsPath(),
			KeyringScope: cfg.Paths.DataDir,
		})
		if err != nil {
			return nil, err
		}
	}
	k.secrets = mgr
	master, created, err := mgr.EnsureMasterSecret(ctx)
	if err != nil {
		return nil, err
	}
	if created {
		slog.Info("master_secret_created", slog.String("backend", mgr.Backend()))
	}

	k.meta, err = store.Open(ctx, cfg.StorePath(), master.Bytes(), store.OpenOptions{
		Create: true,
		KDF: store.KDFParams{
			Time:     cfg.Store.KDFTime,
			MemoryKB: cfg.Store.KDFMemoryKB,
			Threads:  cfg.Store.KDFThreads,
		},
	})
	if err != nil {
		return nil, err
	}

	k.embedder = opts.Embedder
	if k.embedder == nil {
		var eopts []embed.Option
		if tok, tokErr := mgr.ProviderToken(ctx, cfg.Embeddings.Provider); tokErr == nil {
			eopts = append(eopts, embed.WithToken(tok.Reveal()))
		}
		if k.embedder, err = embed.NewFromConfig(ctx, cfg.Embeddings, eopts...); err != nil {
			return nil, kberrors.EmbeddingError("failed to create embedding provider", err)
		}
		k.ownsEmb = true
	}

	k.ix = index.New(k.meta, k.embedder, nil, index.Options{
		DataDir:        cfg.Paths.DataDir,
		BM25Backend:    cfg.Search.BM25Backend,
		Chunking:       chunk.Options{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap},
		EmbedTimeout:   cfg.Embeddings.Timeout,
		ExtractTimeout: cfg.Ingest.ExtractTimeout,
	})

	if !opts.SkipRepair {
		res, rep, err := k.ix.CheckAndRepair(ctx)
		if err != nil {
			return nil, err
		}
		if !res.Consistent() {
			slog.Info("startup_repair_completed",
				slog.Int("orphans_deleted", rep.OrphansDeleted),
				slog.Int("entries_restored", rep.EntriesRestored),
				slog.Int("requeued", len(rep.RequeuedDocuments)))
		}
	}

	k.ingester, err = ingest.New(k.ix, ingest.Options{
		HomeRoot:     cfg.Paths.HomeRoot,
		Workers:      cfg.Ingest.Workers,
		MaxFileSize:  cfg.Ingest.MaxFileSize,
		Exclude:      cfg.Ingest.Exclude,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		FetchRate:    cfg.Ingest.FetchRate,
		HTTPClient:   opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	if k.engine, err = search.NewEngine(k.ix, search.ConfigFrom(cfg.Search)); err != nil {
		return nil, err
	}

	slog.Info("kb_opened",
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("embedder", k.embedder.ModelName()),
		slog.String("keyword_backend", cfg.Search.BM25Backend))
	return k, nil
}

// Config returns the configuration the KB was opened with.
func (k *KB) Config() *config.Config { return k.cfg }

// Indexer returns the indexer.
func (k *KB) Indexer() *index.Indexer { return k.ix }

// Engine returns the search engine.
func (k *KB) Engine() *search.Engine { return k.engine }

// Ingester returns the ingester.
func (k *KB) Ingester() *ingest.Ingester { return k.ingester }

// Ingest runs one pass per definition, in order. A definition that fails is
// reported and the next one still runs; cancellation stops the loop. full
// re-chunks documents whose fingerprint is unchanged.
func (k *KB) Ingest(ctx context.Context, defs []source.Definition, full bool) ([]*ingest.Report, error) {
	reports := make([]*ingest.Report, 0, len(defs))
	var errs []error
	for i, def := range defs {
		pass := ingest.Pass{Source: def, Full: full}
		if def.Type == source.TypeURLs {
			pass.Retain = siblingURLs(defs, i)
		}
		rep, err := k.ingester.Run(ctx, pass)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return reports, ctxErr
			}
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// siblingURLs returns the URLs listed by the other URL definitions that share
// defs[i]'s namespace.
func siblingURLs(defs []source.Definition, i int) []string {
	var out []string
	for j, d := range defs {
		if j != i && d.Type == source.TypeURLs && d.Namespace == defs[i].Namespace {
			out = append(out, d.URLs...)
		}
	}
	return out
}

// Search answers req and attaches the namespace's index statistics.
func (k *KB) Search(ctx context.Context, req api.SearchRequest) (*api.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	results, err := k.engine.Search(ctx, req.Query, req.Namespace, req.Options.ToSearch())
	if err != nil {
		return nil, err
	}
	ns, err := validation.NormalizeAndValidateNamespace(req.Namespace)
	if err != nil {
		return nil, err
	}
	st, err := k.ix.Stats(ctx, ns)
	if err != nil {
		return nil, err
	}
	resp := api.NewSearchResponse(results, st)
	return &resp, nil
}

// Stats summarizes one namespace, or every namespace when namespace is
// empty.
func (k *KB) Stats(ctx context.Context, namespace string) (store.Stats, error) {
	if namespace == "" {
		return k.ix.Stats(ctx, "")
	}
	ns, err := validation.NormalizeAndValidateNamespace(namespace)
	if err != nil {
		return store.Stats{}, err
	}
	return k.ix.Stats(ctx, ns)
}

// Close flushes the indexes, closes the store and releases the data
// directory. It is safe to call more than once.
func (k *KB) Close() error {
	k.closeOnce.Do(func() {
		var errs []error
		if k.ix != nil {
			errs = append(errs, k.ix.Close())
		}
		if k.meta != nil {
			errs = append(errs, k.meta.Close())
		}
		if k.ownsEmb {
			errs = append(errs, k.embedder.Close())
		}
		if k.secrets != nil {
			k.secrets.ClearCache()
		}
		errs = append(errs, k.lock.release())
		k.closeErr = errors.Join(errs...)
	})
	return k.closeErr
}
