package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanKeyword is a keyword entry without a metadata row.
	InconsistencyOrphanKeyword InconsistencyType = iota
	// InconsistencyOrphanVector is a vector without a metadata row, or for a
	// chunk recorded as keyword-only.
	InconsistencyOrphanVector
	// InconsistencyMissingKeyword is a metadata row missing from the keyword index.
	InconsistencyMissingKeyword
	// InconsistencyMissingVector is a metadata row with a vector that is
	// missing from the vector index.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanKeyword:
		return "orphan_keyword"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingKeyword:
		return "missing_keyword"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one cross-store issue.
type Inconsistency struct {
	Type      InconsistencyType
	Namespace string
	ChunkID   string

	// DocumentID is set for missing entries.
	DocumentID string
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Namespaces      int
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether nothing was found.
func (r *CheckResult) Consistent() bool { return len(r.Inconsistencies) == 0 }

// RepairResult is the outcome of Repair.
type RepairResult struct {
	OrphansDeleted  int
	EntriesRestored int

	// RequeuedDocuments had entries that could not be rebuilt; their
	// fingerprints were cleared so the next ingest pass re-chunks them.
	RequeuedDocuments []string
}

// Check compares the metadata store, which is the source of truth, with both
// indexes of every namespace that has documents or an index directory.
func (ix *Indexer) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	names, err := ix.meta.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	onDisk, err := ix.diskNamespaces()
	if err != nil {
		return nil, err
	}
	names = union(names, onDisk)

	result := &CheckResult{Namespaces: len(names)}
	for _, ns := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checked, issues, err := ix.checkNamespace(ctx, ns)
		if err != nil {
			return nil, err
		}
		result.Checked += checked
		result.Inconsistencies = append(result.Inconsistencies, issues...)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (ix *Indexer) checkNamespace(ctx context.Context, ns string) (int, []Inconsistency, error) {
	space, err := ix.Space(ns)
	if err != nil {
		return 0, nil, err
	}

	space.mu.RLock()
	defer space.mu.RUnlock()

	meta, err := ix.meta.ChunkIndex(ctx, ns)
	if err != nil {
		return 0, nil, err
	}
	kwIDs, err := space.keyword.AllIDs()
	if err != nil {
		return 0, nil, err
	}
	vecIDs := space.vector.AllIDs()

	var issues []Inconsistency
	kwSet := make(map[string]bool, len(kwIDs))
	for _, id := range kwIDs {
		kwSet[id] = true
		if _, ok := meta[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanKeyword, Namespace: ns, ChunkID: id})
		}
	}
	vecSet := make(map[string]bool, len(vecIDs))
	for _, id := range vecIDs {
		vecSet[id] = true
		if e, ok := meta[id]; !ok || !e.HasVector {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, Namespace: ns, ChunkID: id})
		}
	}
	for id, e := range meta {
		if !kwSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingKeyword, Namespace: ns, ChunkID: id, DocumentID: e.DocumentID})
		}
		if e.HasVector && !vecSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, Namespace: ns, ChunkID: id, DocumentID: e.DocumentID})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Type != issues[j].Type {
			return issues[i].Type < issues[j].Type
		}
		return issues[i].ChunkID < issues[j].ChunkID
	})
	return len(meta), issues, nil
}

// nsIssues groups the work Repair does in one namespace.
type nsIssues struct {
	orphanKW, orphanVec   []string
	missingKW, missingVec []string
	docOf                 map[string]string
}

// Repair deletes orphans and rebuilds missing entries from the chunk text in
// the metadata store. A document whose entries cannot be rebuilt has its
// fingerprint cleared so the next ingest pass re-chunks it.
func (ix *Indexer) Repair(ctx context.Context, result *CheckResult) (*RepairResult, error) {
	byNS := map[string]*nsIssues{}
	for _, issue := range result.Inconsistencies {
		g, ok := byNS[issue.Namespace]
		if !ok {
			g = &nsIssues{docOf: map[string]string{}}
			byNS[issue.Namespace] = g
		}
		switch issue.Type {
		case InconsistencyOrphanKeyword:
			g.orphanKW = append(g.orphanKW, issue.ChunkID)
		case InconsistencyOrphanVector:
			g.orphanVec = append(g.orphanVec, issue.ChunkID)
		case InconsistencyMissingKeyword:
			g.missingKW = append(g.missingKW, issue.ChunkID)
			g.docOf[issue.ChunkID] = issue.DocumentID
		case InconsistencyMissingVector:
			g.missingVec = append(g.missingVec, issue.ChunkID)
			g.docOf[issue.ChunkID] = issue.DocumentID
		}
	}

	names := make([]string, 0, len(byNS))
	for ns := range byNS {
		names = append(names, ns)
	}
	sort.Strings(names)

	out := &RepairResult{}
	for _, ns := range names {
		if err := ix.repairNamespace(ctx, ns, byNS[ns], out); err != nil {
			return out, err
		}
	}

	if err := ix.Flush(""); err != nil {
		return out, err
	}
	if out.OrphansDeleted > 0 || out.EntriesRestored > 0 || len(out.RequeuedDocuments) > 0 {
		slog.Info("index_repaired",
			slog.Int("orphans_deleted", out.OrphansDeleted),
			slog.Int("entries_restored", out.EntriesRestored),
			slog.Int("documents_requeued", len(out.RequeuedDocuments)))
	}
	return out, nil
}

func (ix *Indexer) repairNamespace(ctx context.Context, ns string, g *nsIssues, out *RepairResult) error {
	space, err := ix.Space(ns)
	if err != nil {
		return err
	}

	// Embed outside the lock.
	missing := append(append([]string{}, g.missingKW...), g.missingVec...)
	details, err := ix.meta.GetChunks(ctx, ns, missing)
	if err != nil {
		return err
	}
	requeue := map[string]bool{}
	var vecIDs []string
	var vecs [][]float32
	for _, id := range g.missingVec {
		d, ok := details[id]
		if !ok {
			continue
		}
		ectx, cancel := context.WithTimeout(ctx, ix.opts.EmbedTimeout)
		v, err := ix.embedder.Embed(ectx, d.Text)
		cancel()
		if err == nil {
			v = ix.usable(v)
		}
		if err != nil || v == nil {
			requeue[g.docOf[id]] = true
			continue
		}
		vecIDs = append(vecIDs, id)
		vecs = append(vecs, v)
	}

	space.mu.Lock()
	defer space.mu.Unlock()

	if len(g.orphanKW) > 0 {
		if err := space.keyword.Delete(ctx, g.orphanKW); err != nil {
			return err
		}
	}
	if len(g.orphanVec) > 0 {
		if err := space.vector.Delete(ctx, g.orphanVec); err != nil {
			return err
		}
	}
	out.OrphansDeleted += len(g.orphanKW) + len(g.orphanVec)

	var kwDocs []*store.Document
	for _, id := range g.missingKW {
		if d, ok := details[id]; ok {
			kwDocs = append(kwDocs, &store.Document{ID: id, Content: d.Text})
		}
	}
	if err := space.keyword.Index(ctx, kwDocs); err != nil {
		return err
	}
	if err := space.vector.Add(ctx, vecIDs, vecs); err != nil {
		return err
	}
	out.EntriesRestored += len(kwDocs) + len(vecIDs)
	space.dirty = true

	docs := make([]string, 0, len(requeue))
	for doc := range requeue {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	for _, doc := range docs {
		if err := ix.meta.ClearFingerprint(ctx, ns, doc); err != nil {
			return err
		}
		out.RequeuedDocuments = append(out.RequeuedDocuments, ns+":"+doc)
	}
	return nil
}

// CheckAndRepair runs Check then Repair when anything was found.
func (ix *Indexer) CheckAndRepair(ctx context.Context) (*CheckResult, *RepairResult, error) {
	res, err := ix.Check(ctx)
	if err != nil {
		return nil, nil, err
	}
	if res.Consistent() {
		slog.Debug("index_consistent",
			slog.Int("namespaces", res.Namespaces),
			slog.Int("chunks", res.Checked))
		return res, &RepairResult{}, nil
	}
	slog.Warn("index_inconsistent",
		slog.Int("issues", len(res.Inconsistencies)),
		slog.Int("chunks", res.Checked))
	rep, err := ix.Repair(ctx, res)
	return res, rep, err
}

// Stats summarizes the metadata store for namespace, or all when empty.
func (ix *Indexer) Stats(ctx context.Context, namespace string) (store.Stats, error) {
	return ix.meta.Stats(ctx, namespace)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
