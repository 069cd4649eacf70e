// Package index keeps the vector index, the keyword index and the metadata
// store in step as documents are added, changed and removed.
package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saagar210/AssistSupport-sub002/internal/chunk"
	"github.com/saagar210/AssistSupport-sub002/internal/embed"
	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/extract"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Default timeouts.
const (
	DefaultEmbedTimeout   = 30 * time.Second
	DefaultExtractTimeout = 30 * time.Second
)

// Document describes one document to index.
type Document struct {
	Namespace string

	// ID is the canonical path or URL.
	ID         string
	SourceType string
	Title      string

	// ContentType selects the extractor for fetched documents. Empty means by extension.
	ContentType string

	// Fingerprint is the sha256 hex of the raw bytes. Empty means derive it
	// from the text.
	Fingerprint  string
	PolicyWeight float64
	SizeBytes    int64

	// Force re-chunks even when the fingerprint is unchanged.
	Force bool
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	DocumentID string
	Chunks     int
	Removed    int
	Unchanged  bool

	// Degraded counts chunks indexed keyword-only because embedding failed.
	Degraded int
	EmbedErr error
}

// Options configures an Indexer.
type Options struct {
	// DataDir holds one index directory per namespace.
	DataDir string

	BM25Backend  string
	BM25         store.BM25Config
	VectorMetric string
	Chunking     chunk.Options

	EmbedTimeout   time.Duration
	ExtractTimeout time.Duration
}

// Indexer updates all three stores for a document. One writer per namespace
// at a time; embedding and extraction happen outside the namespace lock.
type Indexer struct {
	meta       *store.EncryptedStore
	embedder   embed.Embedder
	extractors *extract.Registry
	chunker    *chunk.Chunker
	opts       Options
	now        func() time.Time

	mu     sync.Mutex
	spaces map[string]*Space
	closed bool
}

// New creates an Indexer. extractors may be nil for the default registry.
func New(meta *store.EncryptedStore, embedder embed.Embedder, extractors *extract.Registry, opts Options) *Indexer {
	if extractors == nil {
		extractors = extract.NewRegistry()
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = DefaultExtractTimeout
	}
	if opts.BM25.MinTokenLength == 0 && opts.BM25.StopWords == nil {
		opts.BM25 = store.DefaultBM25Config()
	}
	return &Indexer{
		meta:       meta,
		embedder:   embedder,
		extractors: extractors,
		chunker:    chunk.New(opts.Chunking),
		opts:       opts,
		now:        time.Now,
		spaces:     make(map[string]*Space),
	}
}

// Metadata returns the metadata store.
func (ix *Indexer) Metadata() *store.EncryptedStore { return ix.meta }

// Embedder returns the embedding provider.
func (ix *Indexer) Embedder() embed.Embedder { return ix.embedder }

// Extractors returns the extractor registry.
func (ix *Indexer) Extractors() *extract.Registry { return ix.extractors }

func (ix *Indexer) spaceDir(namespace string) string {
	return filepath.Join(ix.opts.DataDir, spacesDir, namespace)
}

// Space returns the open indexes of namespace, opening or creating them.
func (ix *Indexer) Space(namespace string) (*Space, error) {
	if err := validation.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil, kberrors.InternalError("indexer is closed", nil)
	}
	if s, ok := ix.spaces[namespace]; ok {
		return s, nil
	}
	s, err := openSpace(namespace, ix.spaceDir(namespace), ix.embedder.Dimensions(), ix.opts)
	if err != nil {
		return nil, err
	}
	ix.spaces[namespace] = s
	return s, nil
}

// LookupSpace is like Space but does not create indexes for a namespace that
// has never been written.
func (ix *Indexer) LookupSpace(namespace string) (*Space, bool, error) {
	if err := validation.ValidateNamespace(namespace); err != nil {
		return nil, false, err
	}
	ix.mu.Lock()
	s, ok := ix.spaces[namespace]
	ix.mu.Unlock()
	if ok {
		return s, true, nil
	}
	if _, err := os.Stat(ix.spaceDir(namespace)); err != nil {
		return nil, false, nil
	}
	s, err := ix.Space(namespace)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// diskNamespaces lists namespaces that have an index directory.
func (ix *Indexer) diskNamespaces() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(ix.opts.DataDir, spacesDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && validation.ValidateNamespace(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Upsert indexes text for doc. An unchanged fingerprint is a no-op. Chunks
// whose embedding fails are indexed keyword-only and counted in Degraded.
func (ix *Indexer) Upsert(ctx context.Context, doc Document, text string) (*UpsertResult, error) {
	if err := validation.ValidateNamespace(doc.Namespace); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidInput, "document id is empty")
	}
	if doc.Fingerprint == "" {
		doc.Fingerprint = chunk.Fingerprint([]byte(text))
	}
	if doc.PolicyWeight <= 0 {
		doc.PolicyWeight = 1
	}

	now := ix.now()
	if res, done, err := ix.skipUnchanged(ctx, doc, now); done || err != nil {
		return res, err
	}

	chunks := ix.chunker.Chunk(doc.ID, doc.Fingerprint, text)
	vectors, degraded, embedErr := ix.embedChunks(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			ID:         c.ID,
			Namespace:  doc.Namespace,
			DocumentID: doc.ID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			HasVector:  vectors[i] != nil,
		}
	}

	space, err := ix.Space(doc.Namespace)
	if err != nil {
		return nil, err
	}

	space.mu.Lock()
	defer space.mu.Unlock()

	removed, err := ix.meta.DocumentChunkIDs(ctx, doc.Namespace, doc.ID)
	if err != nil {
		return nil, err
	}

	// The indexes change first and the metadata commits last, so a stored
	// fingerprint always describes indexed chunks.
	space.dirty = true
	if err := ix.replaceEntries(ctx, space, doc.ID, removed, chunks, vectors); err != nil {
		ix.rollback(ctx, space, doc, chunks)
		return nil, err
	}

	_, err = ix.meta.ReplaceDocument(ctx, &store.DocumentRecord{
		Namespace:    doc.Namespace,
		ID:           doc.ID,
		SourceType:   doc.SourceType,
		Title:        doc.Title,
		Fingerprint:  doc.Fingerprint,
		PolicyWeight: doc.PolicyWeight,
		SizeBytes:    doc.SizeBytes,
		LastSeen:     now,
		IndexedAt:    now,
	}, records)
	if err != nil {
		ix.rollback(ctx, space, doc, chunks)
		return nil, err
	}

	slog.Info("document_upserted",
		slog.String("namespace", doc.Namespace),
		slog.String("document", doc.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("removed", len(removed)),
		slog.Int("degraded", degraded))

	return &UpsertResult{
		DocumentID: doc.ID,
		Chunks:     len(chunks),
		Removed:    len(removed),
		Degraded:   degraded,
		EmbedErr:   embedErr,
	}, nil
}

// replaceEntries swaps a document's old index entries for its new chunks.
// Old entries go first: a re-chunk after a cleared fingerprint reuses IDs.
func (ix *Indexer) replaceEntries(ctx context.Context, space *Space, docID string, removed []string, chunks []chunk.Chunk, vectors [][]float32) error {
	if err := space.vector.Delete(ctx, removed); err != nil {
		return kberrors.StorageError("failed to delete old vectors", err).WithDetail("document", docID)
	}
	if err := space.keyword.Delete(ctx, removed); err != nil {
		return kberrors.StorageError("failed to delete old keyword entries", err).WithDetail("document", docID)
	}

	var vecIDs []string
	var vecs [][]float32
	kwDocs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		kwDocs[i] = &store.Document{ID: c.ID, Content: c.Text}
		if vectors[i] != nil {
			vecIDs = append(vecIDs, c.ID)
			vecs = append(vecs, vectors[i])
		}
	}
	if err := space.vector.Add(ctx, vecIDs, vecs); err != nil {
		return kberrors.StorageError("failed to add vectors", err).WithDetail("document", docID)
	}
	if err := space.keyword.Index(ctx, kwDocs); err != nil {
		return kberrors.StorageError("failed to index keywords", err).WithDetail("document", docID)
	}
	return nil
}

// rollback drops whatever new entries made it into the indexes and clears
// the stored fingerprint, so the next pass re-chunks the document instead of
// treating it as unchanged. Old entries already deleted are restored by the
// startup consistency check. Caller holds space.mu.
func (ix *Indexer) rollback(ctx context.Context, space *Space, doc Document, chunks []chunk.Chunk) {
	// Cleanup must run even when ctx is what failed.
	cctx := context.WithoutCancel(ctx)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	_ = space.vector.Delete(cctx, ids)
	_ = space.keyword.Delete(cctx, ids)

	if err := ix.meta.ClearFingerprint(cctx, doc.Namespace, doc.ID); err != nil {
		slog.Error("upsert_rollback_failed", kberrors.LogAttrs(err)...)
		return
	}
	slog.Warn("upsert_rolled_back",
		slog.String("namespace", doc.Namespace),
		slog.String("document", doc.ID))
}

// skipUnchanged short-circuits a document whose fingerprint is stored. Its
// descriptive columns and last_seen are refreshed.
func (ix *Indexer) skipUnchanged(ctx context.Context, doc Document, now time.Time) (*UpsertResult, bool, error) {
	if doc.Force {
		return nil, false, nil
	}
	prev, err := ix.meta.GetDocument(ctx, doc.Namespace, doc.ID)
	if err != nil {
		return nil, true, err
	}
	if prev == nil || prev.Fingerprint != doc.Fingerprint {
		return nil, false, nil
	}

	title := doc.Title
	if title == "" {
		title = prev.Title
	}
	err = ix.meta.UpdateDocumentInfo(ctx, &store.DocumentRecord{
		Namespace:    doc.Namespace,
		ID:           doc.ID,
		SourceType:   doc.SourceType,
		Title:        title,
		PolicyWeight: doc.PolicyWeight,
		LastSeen:     now,
	})
	if err != nil {
		return nil, true, err
	}
	return &UpsertResult{DocumentID: doc.ID, Chunks: prev.ChunkCount, Unchanged: true}, true, nil
}

// embedChunks embeds chunks, first as one batch and then one by one when the
// batch fails, so a single bad chunk only degrades itself. A nil vector marks
// a keyword-only chunk.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, int, error) {
	vectors := make([][]float32, len(chunks))
	if len(chunks) == 0 {
		return vectors, 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	bctx, cancel := context.WithTimeout(ctx, ix.opts.EmbedTimeout)
	batch, err := ix.embedder.EmbedBatch(bctx, texts)
	cancel()
	if err == nil && len(batch) == len(chunks) {
		for i, v := range batch {
			vectors[i] = ix.usable(v)
		}
		return vectors, 0, nil
	}

	degraded := 0
	var firstErr error
	for i, text := range texts {
		if ctx.Err() != nil {
			return vectors, degraded, ctx.Err()
		}
		cctx, cancel := context.WithTimeout(ctx, ix.opts.EmbedTimeout)
		v, err := ix.embedder.Embed(cctx, text)
		cancel()
		if err != nil {
			degraded++
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("chunk_embedding_failed",
				slog.String("chunk", chunks[i].ID),
				slog.String("error", err.Error()))
			continue
		}
		vectors[i] = ix.usable(v)
	}
	return vectors, degraded, firstErr
}

// usable returns v, or nil when it cannot go into the vector index.
func (ix *Indexer) usable(v []float32) []float32 {
	if len(v) != ix.embedder.Dimensions() {
		return nil
	}
	for _, x := range v {
		if x != 0 {
			return v
		}
	}
	return nil
}

// ExtractAndUpsert extracts raw with the extractor chosen by doc.ContentType
// or the document's extension, then upserts the text. Extraction failure
// leaves the document at its prior state.
func (ix *Indexer) ExtractAndUpsert(ctx context.Context, doc Document, raw []byte) (*UpsertResult, error) {
	if err := validation.ValidateNamespace(doc.Namespace); err != nil {
		return nil, err
	}
	doc.Fingerprint = chunk.Fingerprint(raw)
	doc.SizeBytes = int64(len(raw))
	if doc.PolicyWeight <= 0 {
		doc.PolicyWeight = 1
	}
	if res, done, err := ix.skipUnchanged(ctx, doc, ix.now()); done || err != nil {
		return res, err
	}

	ectx, cancel := context.WithTimeout(ctx, ix.opts.ExtractTimeout)
	defer cancel()

	var res extract.Result
	var err error
	if doc.ContentType != "" {
		res, err = ix.extractors.ExtractContent(ectx, doc.ID, doc.ContentType, raw)
	} else {
		res, err = ix.extractors.ExtractPath(ectx, doc.ID, raw)
	}
	if err != nil {
		if kb, ok := kberrors.As(err); ok {
			return nil, kb.WithDetail("document", doc.ID)
		}
		return nil, kberrors.ExtractionError("extraction failed", err).WithDetail("document", doc.ID)
	}
	if doc.Title == "" {
		doc.Title = res.Title
	}
	doc.Force = true
	return ix.Upsert(ctx, doc, res.Text)
}

// RemoveDocument deletes a document from all stores and returns the number
// of chunks removed.
func (ix *Indexer) RemoveDocument(ctx context.Context, namespace, docID string) (int, error) {
	space, err := ix.Space(namespace)
	if err != nil {
		return 0, err
	}

	space.mu.Lock()
	defer space.mu.Unlock()

	removed, err := ix.meta.DeleteDocument(ctx, namespace, docID)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}
	space.dirty = true
	if err := space.vector.Delete(ctx, removed); err != nil {
		return 0, kberrors.StorageError("failed to delete vectors", err).WithDetail("document", docID)
	}
	if err := space.keyword.Delete(ctx, removed); err != nil {
		return 0, kberrors.StorageError("failed to delete keyword entries", err).WithDetail("document", docID)
	}

	slog.Info("document_removed",
		slog.String("namespace", namespace),
		slog.String("document", docID),
		slog.Int("chunks", len(removed)))
	return len(removed), nil
}

// Flush persists the indexes of namespace, or of every open namespace when
// namespace is empty.
func (ix *Indexer) Flush(namespace string) error {
	ix.mu.Lock()
	var spaces []*Space
	for name, s := range ix.spaces {
		if namespace == "" || name == namespace {
			spaces = append(spaces, s)
		}
	}
	ix.mu.Unlock()

	sort.Slice(spaces, func(i, j int) bool { return spaces[i].name < spaces[j].name })
	var errs []error
	for _, s := range spaces {
		if err := s.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every namespace. The metadata store and embedder
// belong to the caller.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.closed = true
	spaces := ix.spaces
	ix.spaces = map[string]*Space{}
	ix.mu.Unlock()

	var errs []error
	for _, s := range spaces {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
