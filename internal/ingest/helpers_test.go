package ingest

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saagar210/AssistSupport-sub002/internal/chunk"
	"github.com/saagar210/AssistSupport-sub002/internal/embed"
	"github.com/saagar210/AssistSupport-sub002/internal/index"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

type fixture struct {
	home string
	docs string
	meta *store.EncryptedStore
	ix   *index.Indexer
	in   *Ingester
}

type fixtureOption func(*Options)

func withHTTPClient(c *http.Client) fixtureOption {
	return func(o *Options) { o.HTTPClient = c }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	home, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	docs := filepath.Join(home, "kb")
	require.NoError(t, os.MkdirAll(docs, 0o755))

	dataDir := t.TempDir()
	meta, err := store.Open(context.Background(), filepath.Join(dataDir, "kb.db"), []byte("secret"),
		store.OpenOptions{Create: true, KDF: store.KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	ix := index.New(meta, embed.NewStaticEmbedder(), nil, index.Options{
		DataDir:  dataDir,
		Chunking: chunk.Options{Size: 200, Overlap: 20},
	})
	t.Cleanup(func() { _ = ix.Close() })

	o := Options{
		HomeRoot:    home,
		Workers:     4,
		MaxFileSize: 4096,
		Exclude:     []string{"node_modules/", "*.lock"},
		FetchRate:   1000,
	}
	for _, opt := range opts {
		opt(&o)
	}
	in, err := New(ix, o)
	require.NoError(t, err)

	return &fixture{home: home, docs: docs, meta: meta, ix: ix, in: in}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.docs, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (f *fixture) folder() source.Definition {
	return source.Definition{Type: source.TypeFolder, Location: f.docs, Namespace: "it", Weight: 1}
}

func (f *fixture) run(t *testing.T, pass Pass) *Report {
	t.Helper()
	rep, err := f.in.Run(context.Background(), pass)
	require.NoError(t, err)
	return rep
}

func outcomes(rep *Report) map[string]Action {
	out := make(map[string]Action, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		out[o.DocumentID] = o.Action
	}
	return out
}

const resetText = "To reset a password open the self service portal, choose forgot password " +
	"and follow the verification steps sent to your registered phone."
