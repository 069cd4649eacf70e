package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// testKDF keeps Argon2 fast in tests.
var testKDF = KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}

func openTestStore(t *testing.T, path string, secret string) *EncryptedStore {
	t.Helper()
	s, err := Open(context.Background(), path, []byte(secret), OpenOptions{Create: true, KDF: testKDF})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(ns, id, fp string) *DocumentRecord {
	now := time.Unix(1_700_000_000, 0)
	return &DocumentRecord{
		Namespace:    ns,
		ID:           id,
		SourceType:   "folder",
		Title:        "VPN guide",
		Fingerprint:  fp,
		PolicyWeight: 1.5,
		SizeBytes:    42,
		LastSeen:     now,
		IndexedAt:    now,
	}
}

func TestOpen_MissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")

	_, err := Open(context.Background(), path, []byte("secret"), OpenOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreNotFound))
	assert.False(t, kberrors.IsAuth(err))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_GarbageFileIsCorrupt(t *testing.T) {
	// Given a file that is not a database
	path := filepath.Join(t.TempDir(), "kb.db")
	junk := make([]byte, 8192)
	for i := range junk {
		junk[i] = byte(i*31 + 7)
	}
	require.NoError(t, os.WriteFile(path, junk, 0o600))

	// When opened
	_, err := Open(context.Background(), path, []byte("secret"), OpenOptions{Create: true, KDF: testKDF})

	// Then the error is corrupt, not not-found and not auth
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreCorrupt))
	assert.False(t, errors.Is(err, ErrStoreNotFound))
	assert.False(t, kberrors.IsAuth(err))
}

func TestOpen_EmptySecretRejected(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "kb.db"), nil, OpenOptions{Create: true, KDF: testKDF})

	assert.True(t, kberrors.IsAuth(err))
}

func TestOpen_WrongSecret(t *testing.T) {
	// Given a store written with the correct secret
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kb.db")
	s := openTestStore(t, path, "correct horse")
	require.NoError(t, s.SetSetting(ctx, "provider_token", "tok-123"))
	require.NoError(t, s.Close())

	// When opened with the wrong secret
	wrong, err := Open(ctx, path, []byte("battery staple"), OpenOptions{})

	// Then the open fails with an AuthError and nothing is readable
	require.Error(t, err)
	assert.Nil(t, wrong)
	assert.True(t, kberrors.IsAuth(err))
	assert.True(t, errors.Is(err, ErrWrongSecret))

	// And the correct secret still returns the value unchanged
	again, err := Open(ctx, path, []byte("correct horse"), OpenOptions{})
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	v, ok, err := again.GetSetting(ctx, "provider_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-123", v)
}

func TestOpen_SetsFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	openTestStore(t, path, "secret")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInitialize_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Initialize(ctx))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSettings_AreSealedAtRest(t *testing.T) {
	// Given a stored setting
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	require.NoError(t, s.SetSetting(ctx, "token", "plain-value"))

	// Then the raw column does not contain the plaintext
	var raw []byte
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'token'`).Scan(&raw))
	assert.NotContains(t, string(raw), "plain-value")

	// And overwrite then delete behave
	require.NoError(t, s.SetSetting(ctx, "token", "second"))
	v, ok, err := s.GetSetting(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	require.NoError(t, s.DeleteSetting(ctx, "token"))
	_, ok, err = s.GetSetting(ctx, "token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings_SwappedCiphertextFailsToOpen(t *testing.T) {
	// Given two sealed settings
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	require.NoError(t, s.SetSetting(ctx, "a", "alpha"))
	require.NoError(t, s.SetSetting(ctx, "b", "beta"))

	// When b's ciphertext is copied onto a
	var raw []byte
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'b'`).Scan(&raw))
	_, err := s.db.ExecContext(ctx, `UPDATE settings SET value = ? WHERE key = 'a'`, raw)
	require.NoError(t, err)

	// Then reading a fails instead of returning beta
	_, _, err = s.GetSetting(ctx, "a")
	assert.True(t, errors.Is(err, ErrStoreCorrupt))
}

func TestReplaceDocument_WritesChunksAndReturnsRemoved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")

	// Given a document with two chunks
	doc := testDoc("it", "/home/u/kb/vpn.md", "fp1")
	removed, err := s.ReplaceDocument(ctx, doc, []ChunkRecord{
		{ID: "c1", Ordinal: 0, Text: "Reset the VPN", HasVector: true},
		{ID: "c2", Ordinal: 1, Text: "Then reconnect", HasVector: false},
	})
	require.NoError(t, err)
	assert.Empty(t, removed)

	// When it is replaced with one chunk
	doc2 := testDoc("it", "/home/u/kb/vpn.md", "fp2")
	removed, err = s.ReplaceDocument(ctx, doc2, []ChunkRecord{{ID: "c3", Ordinal: 0, Text: "New text", HasVector: true}})

	// Then the old chunk IDs are reported and the row is updated
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, removed)

	got, err := s.GetDocument(ctx, "it", "/home/u/kb/vpn.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fp2", got.Fingerprint)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 1.5, got.PolicyWeight)
	assert.True(t, got.IndexedAt.Equal(doc2.IndexedAt))

	idx, err := s.ChunkIndex(ctx, "it")
	require.NoError(t, err)
	assert.Equal(t, map[string]ChunkEntry{"c3": {DocumentID: "/home/u/kb/vpn.md", HasVector: true}}, idx)
}

func TestGetChunks_DecryptsAndJoins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("it", "doc-1", "fp"), []ChunkRecord{
		{ID: "c1", Ordinal: 0, Text: "Reset the VPN", HasVector: true},
		{ID: "c2", Ordinal: 1, Text: "keyword only", HasVector: false},
	})
	require.NoError(t, err)

	chunks, err := s.GetChunks(ctx, "it", []string{"c1", "c2", "missing"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Reset the VPN", chunks["c1"].Text)
	assert.Equal(t, "doc-1", chunks["c1"].DocumentID)
	assert.Equal(t, "it", chunks["c1"].Document.Namespace)
	assert.Equal(t, "VPN guide", chunks["c1"].Document.Title)
	assert.False(t, chunks["c2"].HasVector)

	var raw []byte
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT text FROM chunks WHERE id = 'c1'`).Scan(&raw))
	assert.NotContains(t, string(raw), "Reset the VPN")
}

func TestReplaceDocument_SameChunkIDsInTwoNamespaces(t *testing.T) {
	// Given one document already stored in namespace it
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("it", "doc-1", "fp"), []ChunkRecord{
		{ID: "c1", Ordinal: 0, Text: "Reset the VPN", HasVector: true},
	})
	require.NoError(t, err)

	// When the same document and chunk ID go into namespace hr
	_, err = s.ReplaceDocument(ctx, testDoc("hr", "doc-1", "fp"), []ChunkRecord{
		{ID: "c1", Ordinal: 0, Text: "Book leave in the portal", HasVector: true},
	})

	// Then both copies exist and each namespace reads its own
	require.NoError(t, err)
	it, err := s.GetChunks(ctx, "it", []string{"c1"})
	require.NoError(t, err)
	require.Contains(t, it, "c1")
	assert.Equal(t, "Reset the VPN", it["c1"].Text)

	hr, err := s.GetChunks(ctx, "hr", []string{"c1"})
	require.NoError(t, err)
	require.Contains(t, hr, "c1")
	assert.Equal(t, "Book leave in the portal", hr["c1"].Text)
	assert.Equal(t, "hr", hr["c1"].Namespace)

	// And deleting one namespace's copy leaves the other alone
	_, err = s.DeleteDocument(ctx, "it", "doc-1")
	require.NoError(t, err)
	hr, err = s.GetChunks(ctx, "hr", []string{"c1"})
	require.NoError(t, err)
	assert.Len(t, hr, 1)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("it", "doc-1", "fp"), []ChunkRecord{{ID: "c1", Text: "x", HasVector: true}})
	require.NoError(t, err)

	removed, err := s.DeleteDocument(ctx, "it", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, removed)
	got, err := s.GetDocument(ctx, "it", "doc-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	removed, err = s.DeleteDocument(ctx, "it", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("hr", "same-id", "fp-hr"), []ChunkRecord{{ID: "h1", Text: "x", HasVector: true}})
	require.NoError(t, err)
	_, err = s.ReplaceDocument(ctx, testDoc("it", "same-id", "fp-it"), []ChunkRecord{{ID: "i1", Text: "y", HasVector: true}})
	require.NoError(t, err)

	hr, err := s.ListDocuments(ctx, "hr")
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, "fp-hr", hr[0].Fingerprint)

	nss, err := s.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "it"}, nss)

	_, err = s.DeleteDocument(ctx, "hr", "same-id")
	require.NoError(t, err)
	it, err := s.GetDocument(ctx, "it", "same-id")
	require.NoError(t, err)
	assert.NotNil(t, it)
}

func TestTouchAndClearFingerprint(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("it", "doc-1", "fp"), nil)
	require.NoError(t, err)

	seen := time.Unix(1_800_000_000, 0)
	require.NoError(t, s.TouchDocuments(ctx, "it", []string{"doc-1", "unknown"}, seen))
	require.NoError(t, s.ClearFingerprint(ctx, "it", "doc-1"))

	got, err := s.GetDocument(ctx, "it", "doc-1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(seen))
	assert.Empty(t, got.Fingerprint)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")

	st, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	_, err = s.ReplaceDocument(ctx, testDoc("it", "d1", "fp"), []ChunkRecord{
		{ID: "c1", Text: "a", HasVector: true},
		{ID: "c2", Ordinal: 1, Text: "b", HasVector: false},
	})
	require.NoError(t, err)
	_, err = s.ReplaceDocument(ctx, testDoc("hr", "d2", "fp"), []ChunkRecord{{ID: "c3", Text: "c", HasVector: true}})
	require.NoError(t, err)

	all, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, all.Documents)
	assert.Equal(t, 3, all.Chunks)
	assert.Equal(t, 1, all.KeywordOnlyChunks)
	assert.False(t, all.LastIndexedAt.IsZero())

	it, err := s.Stats(ctx, "it")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Documents)
	assert.Equal(t, 2, it.Chunks)
}

func TestParseKDF_RejectsMissing(t *testing.T) {
	_, err := parseKDF(map[string][]byte{"kdf_time": []byte("1")})
	assert.Error(t, err)
}

func TestUpdateDocumentInfo_KeepsChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "kb.db"), "secret")
	_, err := s.ReplaceDocument(ctx, testDoc("it", "d1", "fp"), []ChunkRecord{{ID: "c1", Text: "a", HasVector: true}})
	require.NoError(t, err)

	doc := testDoc("it", "d1", "fp")
	doc.PolicyWeight = 3
	doc.Title = "Renamed"
	require.NoError(t, s.UpdateDocumentInfo(ctx, doc))

	got, err := s.GetDocument(ctx, "it", "d1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.PolicyWeight)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, 1, got.ChunkCount)
}
