// Package watcher turns filesystem changes below a source folder into
// incremental ingest passes.
//
// Raw events come from fsnotify, or from a polling scan when fsnotify is
// unavailable. A single debouncer goroutine coalesces them per path and
// hands flushed batches to a Dispatcher, which runs one pass over the
// smallest directory covering the batch. A lost subscription is re-created
// with bounded exponential backoff; the watcher only stops with its context.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/gitignore"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Op is the kind of a file event.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	// OpIgnoreChange marks a changed .gitignore or .kbignore file.
	OpIgnoreChange
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// Event is one change. Path is absolute.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
	At    time.Time
}

// Options configures a Watcher.
type Options struct {
	HomeRoot string

	Debounce     time.Duration
	PollInterval time.Duration
	ForcePolling bool

	ResubscribeBackoff    time.Duration
	ResubscribeMaxBackoff time.Duration

	// Exclude holds gitignore-syntax patterns relative to the root. Matching
	// paths produce no events and excluded directories are not watched.
	Exclude []string
}

// DefaultOptions returns the watcher defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:              500 * time.Millisecond,
		PollInterval:          2 * time.Second,
		ResubscribeBackoff:    time.Second,
		ResubscribeMaxBackoff: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ResubscribeBackoff <= 0 {
		o.ResubscribeBackoff = d.ResubscribeBackoff
	}
	if o.ResubscribeMaxBackoff < o.ResubscribeBackoff {
		o.ResubscribeMaxBackoff = max(d.ResubscribeMaxBackoff, o.ResubscribeBackoff)
	}
	return o
}

// subscription is a live source of raw events. Its event channel closing
// or an error arriving means the subscription is lost.
type subscription interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
	Kind() string
}

// Watcher watches one root directory.
type Watcher struct {
	root   string
	opts   Options
	filter *filter

	// subscribe is replaced in tests.
	subscribe func(ctx context.Context) (subscription, error)
}

// New validates root against the home root and prepares a Watcher.
func New(root string, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	resolved, err := validation.ValidateWithinHome(root, opts.HomeRoot)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidPath, "watch root is not a directory").
			WithDetail("path", root)
	}
	exclude, err := gitignore.FromPatterns(opts.Exclude)
	if err != nil {
		return nil, kberrors.ConfigError("invalid watcher exclude pattern", err)
	}

	w := &Watcher{
		root:   resolved,
		opts:   opts,
		filter: &filter{root: resolved, exclude: exclude},
	}
	w.subscribe = w.defaultSubscribe
	return w, nil
}

// Root returns the canonical watched directory.
func (w *Watcher) Root() string { return w.root }

func (w *Watcher) defaultSubscribe(ctx context.Context) (subscription, error) {
	if !w.opts.ForcePolling {
		sub, err := newNotifySubscription(w.root, w.filter)
		if err == nil {
			return sub, nil
		}
		slog.Warn("watcher_fsnotify_unavailable",
			slog.String("root", w.root),
			slog.String("error", err.Error()))
	}
	return newPollSubscription(ctx, w.root, w.opts.PollInterval, w.filter)
}

// Run watches until ctx is done and passes each debounced batch to d.
// It returns ctx.Err().
func (w *Watcher) Run(ctx context.Context, d *Dispatcher) error {
	raw := make(chan Event, 256)
	batches := make(chan []Event)
	deb := NewDebouncer(w.opts.Debounce)

	done := make(chan struct{})
	go func() {
		defer close(done)
		deb.Run(ctx, raw, batches)
	}()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for batch := range batches {
			d.Dispatch(ctx, batch)
		}
	}()

	log := slog.With(slog.String("root", w.root))
	backoff := w.opts.ResubscribeBackoff
	resubscribed := false

	for ctx.Err() == nil {
		sub, err := w.subscribe(ctx)
		if err != nil {
			log.Warn("watcher_subscribe_failed", slog.String("error", err.Error()), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				break
			}
			backoff = min(backoff*2, w.opts.ResubscribeMaxBackoff)
			continue
		}

		if resubscribed {
			log.Info("watcher_resubscribed", slog.String("kind", sub.Kind()))
			// Changes made while unsubscribed are picked up by a pass over the root.
			forward(ctx, raw, Event{Path: w.root, Op: OpModify, IsDir: true, At: time.Now()})
		} else {
			log.Info("watcher_started", slog.String("kind", sub.Kind()))
		}

		started := time.Now()
		lost := w.pump(ctx, sub, raw)
		_ = sub.Close()
		if ctx.Err() != nil {
			break
		}

		if time.Since(started) >= w.opts.ResubscribeMaxBackoff {
			backoff = w.opts.ResubscribeBackoff
		}
		log.Warn("watcher_subscription_lost", slog.String("error", lost.Error()), slog.Duration("retry_in", backoff))
		if !sleep(ctx, backoff) {
			break
		}
		backoff = min(backoff*2, w.opts.ResubscribeMaxBackoff)
		resubscribed = true
	}

	<-done
	close(batches)
	<-dispatched
	return ctx.Err()
}

var errSubscriptionClosed = errors.New("event channel closed")

// pump forwards events until the subscription is lost or ctx ends.
func (w *Watcher) pump(ctx context.Context, sub subscription, raw chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return errSubscriptionClosed
			}
			forward(ctx, raw, ev)
		case err, ok := <-sub.Errors():
			if !ok {
				return errSubscriptionClosed
			}
			return err
		}
	}
}

func forward(ctx context.Context, raw chan<- Event, ev Event) {
	select {
	case raw <- ev:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// filter drops events for excluded paths.
type filter struct {
	root    string
	exclude *gitignore.Matcher
}

func (f *filter) rel(path string) (string, bool) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// skip reports whether path produces no events.
func (f *filter) skip(path string, isDir bool) bool {
	rel, ok := f.rel(path)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	return f.exclude.Match(rel, isDir)
}

// classify turns ignore-file changes into OpIgnoreChange.
func classify(ev Event) Event {
	switch filepath.Base(ev.Path) {
	case ".gitignore", ".kbignore":
		if !ev.IsDir {
			ev.Op = OpIgnoreChange
		}
	}
	return ev
}
