package kb

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/ingest"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/watcher"
)

// Watch keeps every folder definition in defs indexed until ctx ends. Each
// folder gets one catch-up pass, then a watcher whose debounced batches run
// incremental passes over the smallest subtree covering the batch. URL
// definitions are ignored. It returns nil when ctx is cancelled, or the
// first fatal pass error (store corruption, disk full).
func (k *KB) Watch(ctx context.Context, defs []source.Definition) error {
	var folders []source.Definition
	for _, def := range defs {
		switch def.Type {
		case source.TypeFolder:
			folders = append(folders, def)
		case source.TypeURLs:
		default:
			return kberrors.New(kberrors.ErrCodeSourceDefinition, "unknown source type "+string(def.Type), nil)
		}
	}
	if len(folders) == 0 {
		return kberrors.ConfigError("no folder sources to watch", nil).
			WithSuggestion("Add a source with `type: folder` to the definition file")
	}

	wopts := watcher.Options{
		HomeRoot:              k.cfg.Paths.HomeRoot,
		Debounce:              k.cfg.Watcher.Debounce,
		PollInterval:          k.cfg.Watcher.PollInterval,
		ForcePolling:          k.cfg.Watcher.ForcePolling,
		ResubscribeBackoff:    k.cfg.Watcher.ResubscribeBackoff,
		ResubscribeMaxBackoff: k.cfg.Watcher.ResubscribeMaxBackoff,
		Exclude:               k.cfg.Ingest.Exclude,
	}

	watchers := make([]*watcher.Watcher, len(folders))
	for i, def := range folders {
		o := wopts
		o.Exclude = append(append([]string{}, wopts.Exclude...), def.Exclude...)
		w, err := watcher.New(def.Location, o)
		if err != nil {
			return err
		}
		watchers[i] = w
	}

	if _, err := k.Ingest(ctx, folders, false); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if kberrors.IsFatal(err) {
			return err
		}
		slog.Warn("watch_catchup_failed", kberrors.LogAttrs(err)...)
	}

	wctx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	g, gctx := errgroup.WithContext(wctx)
	for i, def := range folders {
		w := watchers[i]
		d := watcher.NewDispatcher(w.Root(), k.trigger(def, stop), k.ingester.Walker().InvalidateIgnoreCache)
		g.Go(func() error {
			err := w.Run(gctx, d)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() == nil {
		if cause := context.Cause(wctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
	}
	return nil
}

// trigger runs one incremental pass. A fatal error cancels the whole watch.
func (k *KB) trigger(def source.Definition, stop context.CancelCauseFunc) watcher.Trigger {
	return func(ctx context.Context, subtree string) error {
		rep, err := k.ingester.Run(ctx, ingest.Pass{Source: def, Subtree: subtree})
		if err != nil {
			if kberrors.IsFatal(err) {
				slog.Error("watch_pass_fatal", kberrors.LogAttrs(err)...)
				stop(err)
			}
			return err
		}
		if n := len(rep.Failures()); n > 0 {
			slog.Warn("watch_pass_partial",
				slog.String("namespace", rep.Namespace),
				slog.String("subtree", subtree),
				slog.Int("failed", n))
		}
		return nil
	}
}
