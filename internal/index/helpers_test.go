package index

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saagar210/AssistSupport-sub002/internal/chunk"
	"github.com/saagar210/AssistSupport-sub002/internal/embed"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

var testKDF = store.KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}

// failingEmbedder wraps the static embedder and fails while failing is set.
type failingEmbedder struct {
	*embed.StaticEmbedder
	failing atomic.Bool
}

var errProviderDown = errors.New("provider down")

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failing.Load() {
		return nil, errProviderDown
	}
	return f.StaticEmbedder.Embed(ctx, text)
}

// failingKeyword wraps a keyword index and fails writes while failing is set.
type failingKeyword struct {
	store.BM25Index
	failing atomic.Bool
}

var errKeywordDown = errors.New("keyword index unavailable")

func (k *failingKeyword) Index(ctx context.Context, docs []*store.Document) error {
	if k.failing.Load() {
		return errKeywordDown
	}
	return k.BM25Index.Index(ctx, docs)
}

func (k *failingKeyword) Delete(ctx context.Context, ids []string) error {
	if k.failing.Load() {
		return errKeywordDown
	}
	return k.BM25Index.Delete(ctx, ids)
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failing.Load() {
		return nil, errProviderDown
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

type fixture struct {
	dir      string
	meta     *store.EncryptedStore
	embedder *failingEmbedder
	ix       *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	meta, err := store.Open(context.Background(), filepath.Join(dir, "kb.db"), []byte("secret"),
		store.OpenOptions{Create: true, KDF: testKDF})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	f := &fixture{dir: dir, meta: meta, embedder: &failingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}}
	f.ix = f.newIndexer(t)
	return f
}

func (f *fixture) newIndexer(t *testing.T) *Indexer {
	t.Helper()
	ix := New(f.meta, f.embedder, nil, Options{
		DataDir:  f.dir,
		Chunking: chunk.Options{Size: 200, Overlap: 20},
	})
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func testDoc(ns, id string) Document {
	return Document{Namespace: ns, ID: id, SourceType: "folder", PolicyWeight: 1}
}

const vpnText = "To reset the VPN client, open the network settings and remove the old profile. " +
	"Then download a fresh profile from the portal and import it. Restart the client and sign in again " +
	"with your directory credentials. If the connection still fails, clear the credential cache and retry."

func spaceIDs(t *testing.T, ix *Indexer, ns string) (vector, keyword []string) {
	t.Helper()
	space, err := ix.Space(ns)
	require.NoError(t, err)
	require.NoError(t, space.View(func(v store.VectorStore, k store.BM25Index) error {
		vector = v.AllIDs()
		var err error
		keyword, err = k.AllIDs()
		return err
	}))
	return vector, keyword
}
