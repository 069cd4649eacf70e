// Package ingest runs ingest passes: it discovers the documents of a source,
// diffs them against the metadata store by fingerprint and feeds added and
// modified documents to the indexer on a bounded worker pool.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saagar210/AssistSupport-sub002/internal/chunk"
	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/index"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Action classifies what a pass did to one document.
type Action string

const (
	ActionAdded     Action = "added"
	ActionModified  Action = "modified"
	ActionUnchanged Action = "unchanged"
	ActionRemoved   Action = "removed"
	ActionFailed    Action = "failed"
)

// Pass selects one ingest run.
type Pass struct {
	Source source.Definition

	// Subtree limits a folder pass to a directory below the source location.
	// Documents outside it are neither re-read nor removed.
	Subtree string

	// Full ignores stored fingerprints and re-chunks every document.
	Full bool

	// Retain lists URLs that other definitions of the same namespace still
	// report. A URL pass removes every stored URL document its definition no
	// longer lists, except these.
	Retain []string
}

// Outcome is the result for one document.
type Outcome struct {
	DocumentID string
	Action     Action
	Chunks     int

	// Degraded counts chunks indexed keyword-only.
	Degraded int
	Err      error
}

// Report summarizes a pass.
type Report struct {
	RunID      string
	Namespace  string
	SourceType source.Type
	Started    time.Time
	Duration   time.Duration
	Outcomes   []Outcome
}

// Count returns the number of outcomes with action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Action == ActionFailed {
			out = append(out, o)
		}
	}
	return out
}

// Options configures an Ingester.
type Options struct {
	HomeRoot    string
	Workers     int
	MaxFileSize int64

	// Exclude holds gitignore-syntax patterns applied to every folder source.
	Exclude []string

	FetchTimeout time.Duration
	FetchRate    float64
	HTTPClient   *http.Client
}

// Ingester runs passes against an Indexer.
type Ingester struct {
	ix      *index.Indexer
	meta    *store.EncryptedStore
	walker  *Walker
	fetcher *Fetcher
	workers int
	now     func() time.Time
}

// New creates an Ingester.
func New(ix *index.Indexer, opts Options) (*Ingester, error) {
	walker, err := NewWalker(opts.HomeRoot, opts.MaxFileSize, opts.Exclude, ix.Extractors().Supports)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Ingester{
		ix:      ix,
		meta:    ix.Metadata(),
		walker:  walker,
		fetcher: NewFetcher(opts.HTTPClient, opts.FetchRate, opts.FetchTimeout, opts.MaxFileSize),
		workers: workers,
		now:     time.Now,
	}, nil
}

// Walker returns the folder walker.
func (in *Ingester) Walker() *Walker { return in.walker }

// Run executes one pass. Per-document failures are reported in the Report
// and never abort the pass. A cancelled context stops the pass at the next
// document boundary; the partial report is returned with the context error.
func (in *Ingester) Run(ctx context.Context, pass Pass) (*Report, error) {
	def := pass.Source
	ns, err := validation.NormalizeAndValidateNamespace(def.Namespace)
	if err != nil {
		return nil, err
	}
	def.Namespace = ns
	if def.Weight <= 0 {
		def.Weight = source.DefaultWeight
	}

	run := &run{
		in:   in,
		pass: pass,
		def:  def,
		report: &Report{
			RunID:      uuid.NewString(),
			Namespace:  ns,
			SourceType: def.Type,
			Started:    in.now(),
		},
	}
	run.log = slog.With(
		slog.String("run_id", run.report.RunID),
		slog.String("namespace", ns),
		slog.String("source_type", string(def.Type)))
	run.log.Info("ingest_started", slog.Bool("full", pass.Full), slog.String("subtree", pass.Subtree))

	switch def.Type {
	case source.TypeFolder:
		err = run.folder(ctx)
	case source.TypeURLs:
		err = run.urls(ctx)
	default:
		err = kberrors.ValidationError(kberrors.ErrCodeSourceDefinition, "unknown source type").
			WithDetail("type", string(def.Type))
	}

	if ferr := in.ix.Flush(ns); ferr != nil && err == nil {
		err = ferr
	}

	rep := run.finish()
	attrs := []any{
		slog.Int("added", rep.Count(ActionAdded)),
		slog.Int("modified", rep.Count(ActionModified)),
		slog.Int("unchanged", rep.Count(ActionUnchanged)),
		slog.Int("removed", rep.Count(ActionRemoved)),
		slog.Int("failed", rep.Count(ActionFailed)),
		slog.Duration("duration", rep.Duration),
	}
	if err != nil {
		run.log.Warn("ingest_aborted", append(attrs, slog.String("error", err.Error()))...)
		return rep, err
	}
	run.log.Info("ingest_completed", attrs...)
	return rep, nil
}

// run is the state of one pass.
type run struct {
	in     *Ingester
	pass   Pass
	def    source.Definition
	log    *slog.Logger
	report *Report

	mu        sync.Mutex
	unchanged []string
}

func (r *run) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Outcomes = append(r.report.Outcomes, o)
	if o.Action == ActionUnchanged {
		r.unchanged = append(r.unchanged, o.DocumentID)
	}
	if o.Err != nil {
		r.log.Warn("document_failed", slog.String("document", o.DocumentID), slog.String("error", o.Err.Error()))
	}
}

func (r *run) finish() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.report.Outcomes, func(i, j int) bool {
		return r.report.Outcomes[i].DocumentID < r.report.Outcomes[j].DocumentID
	})
	r.report.Duration = r.in.now().Sub(r.report.Started)
	return r.report
}

// baseline returns the stored documents of this source type, keyed by ID.
// keep filters the documents the pass is responsible for.
func (r *run) baseline(ctx context.Context, keep func(id string) bool) (map[string]*store.DocumentRecord, error) {
	docs, err := r.in.meta.ListDocuments(ctx, r.def.Namespace)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.DocumentRecord)
	for _, d := range docs {
		if d.SourceType == string(r.def.Type) && keep(d.ID) {
			out[d.ID] = d
		}
	}
	return out, nil
}

// classify compares a fingerprint against the baseline. Full passes treat
// every document as changed.
func (r *run) classify(prev *store.DocumentRecord, fingerprint string) Action {
	switch {
	case prev == nil:
		return ActionAdded
	case r.pass.Full || prev.Fingerprint != fingerprint:
		return ActionModified
	case prev.PolicyWeight != r.def.Weight:
		// Same content under a new weight: the indexer refreshes the row.
		return ActionModified
	default:
		return ActionUnchanged
	}
}

// upsert extracts and indexes one document and records the outcome.
func (r *run) upsert(ctx context.Context, doc index.Document, raw []byte, action Action) {
	res, err := r.in.ix.ExtractAndUpsert(ctx, doc, raw)
	if err != nil {
		r.record(Outcome{DocumentID: doc.ID, Action: ActionFailed, Err: err})
		return
	}
	if res.Unchanged {
		action = ActionUnchanged
	}
	r.record(Outcome{DocumentID: doc.ID, Action: action, Chunks: res.Chunks, Degraded: res.Degraded})
}

func (r *run) document(id string) index.Document {
	return index.Document{
		Namespace:    r.def.Namespace,
		ID:           id,
		SourceType:   string(r.def.Type),
		PolicyWeight: r.def.Weight,
		Force:        r.pass.Full,
	}
}

// touchUnchanged refreshes last_seen of every unchanged document.
func (r *run) touchUnchanged(ctx context.Context) error {
	r.mu.Lock()
	ids := append([]string(nil), r.unchanged...)
	r.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return r.in.meta.TouchDocuments(ctx, r.def.Namespace, ids, r.in.now())
}

// remove deletes documents that disappeared from the source.
func (r *run) remove(ctx context.Context, ids []string) {
	sort.Strings(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		n, err := r.in.ix.RemoveDocument(ctx, r.def.Namespace, id)
		if err != nil {
			r.record(Outcome{DocumentID: id, Action: ActionFailed, Err: err})
			continue
		}
		r.record(Outcome{DocumentID: id, Action: ActionRemoved, Chunks: n})
	}
}

func (r *run) folder(ctx context.Context) error {
	opts := WalkOptions{
		Root:    r.def.Location,
		Subtree: r.pass.Subtree,
		Include: r.def.Include,
		Exclude: r.def.Exclude,
	}
	_, start, err := r.in.walker.Scope(opts)
	if err != nil {
		return err
	}
	// A vanished subtree still needs its documents removed.
	scope := start
	if scope == "" {
		scope = r.vanishedScope(opts)
	}
	inScope := func(id string) bool {
		return scope != "" && (id == scope || strings.HasPrefix(id, scope+string(filepath.Separator)))
	}

	prev, err := r.baseline(ctx, inScope)
	if err != nil {
		return err
	}

	results, err := r.in.walker.Walk(ctx, opts)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	walkFailed := false
	g := new(errgroup.Group)
	g.SetLimit(r.in.workers)

	for res := range results {
		if ctx.Err() != nil {
			continue
		}
		if res.Err != nil {
			if !kberrors.IsValidation(res.Err) {
				// Unreadable entries keep their stored documents.
				seen[res.Path] = true
				walkFailed = walkFailed || res.Path == start
			}
			r.record(Outcome{DocumentID: res.Path, Action: ActionFailed, Err: res.Err})
			continue
		}

		f := res.File
		seen[f.Path] = true
		before := prev[f.Path]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.file(ctx, f, before)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.touchUnchanged(ctx); err != nil {
		return err
	}
	if walkFailed {
		return nil
	}

	var gone []string
	for id := range prev {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	r.remove(ctx, gone)
	return ctx.Err()
}

// vanishedScope is the absolute path a deleted subtree had below the root.
func (r *run) vanishedScope(opts WalkOptions) string {
	root, err := validation.ValidateWithinHome(opts.Root, r.in.walker.homeRoot)
	if err != nil {
		return ""
	}
	sub := opts.Subtree
	if !filepath.IsAbs(sub) {
		sub = filepath.Join(root, sub)
	}
	return filepath.Clean(sub)
}

func (r *run) file(ctx context.Context, f *File, prev *store.DocumentRecord) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		r.record(Outcome{DocumentID: f.Path, Action: ActionFailed,
			Err: kberrors.New(kberrors.ErrCodeFilePermission, "cannot read file", err)})
		return
	}
	action := r.classify(prev, chunk.Fingerprint(raw))
	if action == ActionUnchanged {
		r.record(Outcome{DocumentID: f.Path, Action: action, Chunks: prev.ChunkCount})
		return
	}
	r.upsert(ctx, r.document(f.Path), raw, action)
}

func (r *run) urls(ctx context.Context) error {
	wanted := make(map[string]bool, len(r.def.URLs))
	for _, u := range r.def.URLs {
		wanted[u] = true
	}
	retained := make(map[string]bool, len(r.pass.Retain))
	for _, u := range r.pass.Retain {
		retained[u] = true
	}
	prev, err := r.baseline(ctx, func(id string) bool { return wanted[id] || !retained[id] })
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var gone []string
	for id := range prev {
		if !wanted[id] {
			gone = append(gone, id)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.in.workers)
	for _, u := range r.def.URLs {
		if ctx.Err() != nil {
			break
		}
		before := prev[u]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fetched, err := r.in.fetcher.Fetch(ctx, u)
			switch {
			case errors.Is(err, ErrGone):
				if before != nil {
					mu.Lock()
					gone = append(gone, u)
					mu.Unlock()
					return nil
				}
				r.record(Outcome{DocumentID: u, Action: ActionFailed,
					Err: kberrors.New(kberrors.ErrCodeFetchFailed, "document not found", err).WithDetail("url", u)})
				return nil
			case err != nil:
				r.record(Outcome{DocumentID: u, Action: ActionFailed, Err: err})
				return nil
			}

			action := r.classify(before, chunk.Fingerprint(fetched.Body))
			if action == ActionUnchanged {
				r.record(Outcome{DocumentID: u, Action: action, Chunks: before.ChunkCount})
				return nil
			}
			doc := r.document(u)
			doc.ContentType = fetched.ContentType
			r.upsert(ctx, doc, fetched.Body, action)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.touchUnchanged(ctx); err != nil {
		return err
	}
	r.remove(ctx, gone)
	return ctx.Err()
}
