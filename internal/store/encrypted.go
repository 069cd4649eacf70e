package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/store/migrations"
)

// Sentinels for errors.Is. Returned errors carry the same code with details.
var (
	ErrStoreNotFound = kberrors.New(kberrors.ErrCodeStoreNotFound, "metadata store not found", nil)
	ErrStoreCorrupt  = kberrors.New(kberrors.ErrCodeStoreCorrupt, "metadata store is corrupt", nil)
	ErrWrongSecret   = kberrors.New(kberrors.ErrCodeAuthFailed, "wrong secret for metadata store", nil)
)

const verifierPlaintext = "assistkb-store-verifier-v1"

// OpenOptions controls Open.
type OpenOptions struct {
	// Create initializes a new store when path does not exist.
	Create bool

	// KDF is used only when a new store is created. Zero uses DefaultKDFParams.
	KDF KDFParams
}

// EncryptedStore is the SQLite metadata store. Setting values and chunk text
// are sealed with a key derived from the master secret; identifiers,
// fingerprints and counts are stored in the clear so they can be queried.
type EncryptedStore struct {
	db   *sql.DB
	path string
	seal *sealer
}

// Open opens the store at path with secret. The three failure modes are
// distinct: a missing file is ErrStoreNotFound, an unreadable or damaged
// file is ErrStoreCorrupt, and a wrong secret is an AuthError.
func Open(ctx context.Context, path string, secret []byte, opts OpenOptions) (*EncryptedStore, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !opts.Create {
			return nil, kberrors.New(kberrors.ErrCodeStoreNotFound, "metadata store not found", err).
				WithDetail("path", path).
				WithSuggestion("Run 'assistkb ingest' to create the knowledge base")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, kberrors.StorageError("failed to create data directory", err)
		}
	case err != nil:
		return nil, kberrors.StorageError("failed to stat metadata store", err)
	case info.IsDir():
		return nil, corrupt(path, fmt.Errorf("%s is a directory", path))
	}

	db, err := sql.Open("sqlite", sqliteDSN(path)+"&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, kberrors.StorageError("failed to open metadata store", err)
	}
	db.SetMaxOpenConns(1)

	s := &EncryptedStore{db: db, path: path}
	if err := s.checkIntegrity(ctx); err != nil {
		_ = db.Close()
		return nil, corrupt(path, err)
	}
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.unlock(ctx, secret, opts.KDF); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = db.Close()
		return nil, kberrors.StorageError("failed to restrict metadata store permissions", err)
	}
	return s, nil
}

func corrupt(path string, cause error) error {
	return kberrors.New(kberrors.ErrCodeStoreCorrupt, "metadata store is corrupt", cause).
		WithDetail("path", path).
		WithSuggestion("Move the file aside and run 'assistkb ingest --full' to rebuild")
}

func (s *EncryptedStore) checkIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

// Initialize applies pending migrations. Open calls it; it is idempotent.
func (s *EncryptedStore) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return kberrors.StorageError("failed to create schema_migrations", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return kberrors.StorageError("failed to read schema version", err)
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return kberrors.StorageError("failed to read migrations", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return kberrors.StorageError("failed to read migration "+name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return kberrors.StorageError("failed to apply migration "+name, err)
		}
	}
	return nil
}

// unlock derives the key and checks it against the verifier, creating key
// material on first use.
func (s *EncryptedStore) unlock(ctx context.Context, secret []byte, kdf KDFParams) error {
	if len(secret) == 0 {
		return kberrors.AuthError("master secret is empty", nil)
	}

	meta, err := s.readMeta(ctx)
	if err != nil {
		return kberrors.StorageError("failed to read key material", err)
	}

	salt, ok := meta["salt"]
	if !ok {
		return s.createKey(ctx, secret, kdf)
	}

	params, err := parseKDF(meta)
	if err != nil {
		return corrupt(s.path, err)
	}
	verifier, ok := meta["verifier"]
	if !ok {
		return corrupt(s.path, fmt.Errorf("verifier missing"))
	}

	sl, err := deriveSealer(secret, salt, params)
	if err != nil {
		return kberrors.AuthError("failed to derive key", err)
	}
	plain, err := sl.open(verifier, "verifier")
	if err != nil || string(plain) != verifierPlaintext {
		return kberrors.AuthError("wrong secret for metadata store", err).WithDetail("path", s.path)
	}
	s.seal = sl
	return nil
}

func (s *EncryptedStore) createKey(ctx context.Context, secret []byte, kdf KDFParams) error {
	if kdf.Time == 0 || kdf.MemoryKB == 0 || kdf.Threads == 0 {
		kdf = DefaultKDFParams()
	}
	salt, err := newSalt()
	if err != nil {
		return kberrors.StorageError("failed to create key material", err)
	}
	sl, err := deriveSealer(secret, salt, kdf)
	if err != nil {
		return kberrors.AuthError("failed to derive key", err)
	}
	verifier, err := sl.seal([]byte(verifierPlaintext), "verifier")
	if err != nil {
		return kberrors.StorageError("failed to seal verifier", err)
	}

	rows := map[string][]byte{
		"salt":        salt,
		"verifier":    verifier,
		"kdf_time":    []byte(strconv.FormatUint(uint64(kdf.Time), 10)),
		"kdf_memory":  []byte(strconv.FormatUint(uint64(kdf.MemoryKB), 10)),
		"kdf_threads": []byte(strconv.FormatUint(uint64(kdf.Threads), 10)),
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for k, v := range rows {
			if _, err := tx.ExecContext(ctx, `INSERT INTO store_meta(key, value) VALUES (?, ?)`, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return kberrors.StorageError("failed to save key material", err)
	}
	s.seal = sl
	return nil
}

func (s *EncryptedStore) readMeta(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM store_meta`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	meta := map[string][]byte{}
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func parseKDF(meta map[string][]byte) (KDFParams, error) {
	parse := func(key string, bits int) (uint64, error) {
		v, err := strconv.ParseUint(string(meta[key]), 10, bits)
		if err != nil || v == 0 {
			return 0, fmt.Errorf("invalid %s", key)
		}
		return v, nil
	}
	t, err := parse("kdf_time", 32)
	if err != nil {
		return KDFParams{}, err
	}
	m, err := parse("kdf_memory", 32)
	if err != nil {
		return KDFParams{}, err
	}
	th, err := parse("kdf_threads", 8)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{Time: uint32(t), MemoryKB: uint32(m), Threads: uint8(th)}, nil
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string { return s.path }

// Close closes the database.
func (s *EncryptedStore) Close() error { return s.db.Close() }

func (s *EncryptedStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ==================== Settings ====================

// GetSetting returns a decrypted setting. ok is false when key is unset.
func (s *EncryptedStore) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	var sealed []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, kberrors.StorageError("failed to read setting", err)
	}
	plain, err := s.seal.open(sealed, "setting:"+key)
	if err != nil {
		return "", false, corrupt(s.path, fmt.Errorf("setting %q: %w", key, err))
	}
	return string(plain), true, nil
}

// SetSetting seals and stores a setting.
func (s *EncryptedStore) SetSetting(ctx context.Context, key, value string) error {
	sealed, err := s.seal.seal([]byte(value), "setting:"+key)
	if err != nil {
		return kberrors.StorageError("failed to seal setting", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, sealed, time.Now().UnixNano())
	if err != nil {
		return kberrors.StorageError("failed to save setting", err)
	}
	return nil
}

// DeleteSetting removes a setting. Missing keys are not an error.
func (s *EncryptedStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return kberrors.StorageError("failed to delete setting", err)
	}
	return nil
}

// ==================== Documents ====================

const documentColumns = `namespace, id, source_type, title, fingerprint, policy_weight, chunk_count, size_bytes, last_seen, indexed_at`

type scanner interface{ Scan(dest ...any) error }

func scanDocument(row scanner) (*DocumentRecord, error) {
	var d DocumentRecord
	var lastSeen, indexedAt int64
	if err := row.Scan(&d.Namespace, &d.ID, &d.SourceType, &d.Title, &d.Fingerprint,
		&d.PolicyWeight, &d.ChunkCount, &d.SizeBytes, &lastSeen, &indexedAt); err != nil {
		return nil, err
	}
	d.LastSeen = time.Unix(0, lastSeen)
	d.IndexedAt = time.Unix(0, indexedAt)
	return &d, nil
}

// GetDocument returns a document, or nil when it is not stored.
func (s *EncryptedStore) GetDocument(ctx context.Context, namespace, id string) (*DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE namespace = ? AND id = ?`, namespace, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kberrors.StorageError("failed to read document", err)
	}
	return d, nil
}

// ListDocuments returns every document of a namespace ordered by ID.
func (s *EncryptedStore) ListDocuments(ctx context.Context, namespace string) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE namespace = ? ORDER BY id`, namespace)
	if err != nil {
		return nil, kberrors.StorageError("failed to list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*DocumentRecord
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, kberrors.StorageError("failed to scan document", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to list documents", err)
	}
	return docs, nil
}

// ReplaceDocument writes doc and its chunks in one transaction, replacing any
// previous chunks. It returns the IDs of the chunks it removed.
func (s *EncryptedStore) ReplaceDocument(ctx context.Context, doc *DocumentRecord, chunks []ChunkRecord) ([]string, error) {
	sealed := make([][]byte, len(chunks))
	for i, c := range chunks {
		b, err := s.seal.seal([]byte(c.Text), chunkAAD(doc.Namespace, c.ID))
		if err != nil {
			return nil, kberrors.StorageError("failed to seal chunk", err)
		}
		sealed[i] = b
	}

	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = chunkIDs(ctx, tx, doc.Namespace, doc.ID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ? AND document_id = ?`, doc.Namespace, doc.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents(`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, id) DO UPDATE SET
				source_type = excluded.source_type, title = excluded.title,
				fingerprint = excluded.fingerprint, policy_weight = excluded.policy_weight,
				chunk_count = excluded.chunk_count, size_bytes = excluded.size_bytes,
				last_seen = excluded.last_seen, indexed_at = excluded.indexed_at`,
			doc.Namespace, doc.ID, doc.SourceType, doc.Title, doc.Fingerprint, doc.PolicyWeight,
			len(chunks), doc.SizeBytes, doc.LastSeen.UnixNano(), doc.IndexedAt.UnixNano()); err != nil {
			return err
		}
		for i, c := range chunks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunks(id, namespace, document_id, ordinal, text, has_vector)
				VALUES (?, ?, ?, ?, ?, ?)`,
				c.ID, doc.Namespace, doc.ID, c.Ordinal, sealed[i], boolInt(c.HasVector)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, kberrors.StorageError("failed to replace document", err).WithDetail("document", doc.ID)
	}
	doc.ChunkCount = len(chunks)
	return removed, nil
}

// DeleteDocument removes a document and its chunks and returns the removed chunk IDs.
func (s *EncryptedStore) DeleteDocument(ctx context.Context, namespace, id string) ([]string, error) {
	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = chunkIDs(ctx, tx, namespace, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ? AND document_id = ?`, namespace, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ? AND id = ?`, namespace, id)
		return err
	})
	if err != nil {
		return nil, kberrors.StorageError("failed to delete document", err).WithDetail("document", id)
	}
	return removed, nil
}

// TouchDocuments sets last_seen for documents found unchanged.
func (s *EncryptedStore) TouchDocuments(ctx context.Context, namespace string, ids []string, seen time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET last_seen = ? WHERE namespace = ? AND id = ?`,
				seen.UnixNano(), namespace, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return kberrors.StorageError("failed to update last_seen", err)
	}
	return nil
}

// UpdateDocumentInfo rewrites the descriptive columns of an unchanged
// document without touching its chunks.
func (s *EncryptedStore) UpdateDocumentInfo(ctx context.Context, doc *DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET source_type = ?, title = ?, policy_weight = ?, last_seen = ?
		WHERE namespace = ? AND id = ?`,
		doc.SourceType, doc.Title, doc.PolicyWeight, doc.LastSeen.UnixNano(), doc.Namespace, doc.ID)
	if err != nil {
		return kberrors.StorageError("failed to update document", err).WithDetail("document", doc.ID)
	}
	return nil
}

// ClearFingerprint forces the next pass to re-chunk the document.
func (s *EncryptedStore) ClearFingerprint(ctx context.Context, namespace, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE documents SET fingerprint = '' WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
		return kberrors.StorageError("failed to clear fingerprint", err)
	}
	return nil
}

// Namespaces lists namespaces that hold documents.
func (s *EncryptedStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM documents ORDER BY namespace`)
	if err != nil {
		return nil, kberrors.StorageError("failed to list namespaces", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, kberrors.StorageError("failed to scan namespace", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// ==================== Chunks ====================

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DocumentChunkIDs returns the chunk IDs stored for a document, in order.
func (s *EncryptedStore) DocumentChunkIDs(ctx context.Context, namespace, docID string) ([]string, error) {
	ids, err := chunkIDs(ctx, s.db, namespace, docID)
	if err != nil {
		return nil, kberrors.StorageError("failed to list document chunks", err).WithDetail("document", docID)
	}
	return ids, nil
}

func chunkIDs(ctx context.Context, q queryer, namespace, docID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM chunks WHERE namespace = ? AND document_id = ? ORDER BY ordinal`, namespace, docID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkEntry is the index-facing view of a chunk row.
type ChunkEntry struct {
	DocumentID string
	HasVector  bool
}

// ChunkIndex maps every chunk ID of a namespace to its document and vector flag.
func (s *EncryptedStore) ChunkIndex(ctx context.Context, namespace string) (map[string]ChunkEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, has_vector FROM chunks WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, kberrors.StorageError("failed to list chunks", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]ChunkEntry{}
	for rows.Next() {
		var id string
		var e ChunkEntry
		if err := rows.Scan(&id, &e.DocumentID, &e.HasVector); err != nil {
			return nil, kberrors.StorageError("failed to scan chunk", err)
		}
		out[id] = e
	}
	return out, rows.Err()
}

// chunkAAD binds a sealed chunk to its namespace and ID.
func chunkAAD(namespace, id string) string {
	return "chunk:" + namespace + "/" + id
}

// GetChunks returns decrypted chunks of namespace joined with their
// documents. Unknown IDs are absent from the result.
func (s *EncryptedStore) GetChunks(ctx context.Context, namespace string, ids []string) (map[string]*ChunkDetail, error) {
	out := make(map[string]*ChunkDetail, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.ordinal, c.text, c.has_vector,
			d.namespace, d.id, d.source_type, d.title, d.fingerprint, d.policy_weight,
			d.chunk_count, d.size_bytes, d.last_seen, d.indexed_at
		FROM chunks c JOIN documents d ON d.namespace = c.namespace AND d.id = c.document_id
		WHERE c.namespace = ? AND c.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to read chunks", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c ChunkDetail
		var sealed []byte
		var lastSeen, indexedAt int64
		d := &c.Document
		if err := rows.Scan(&c.ID, &c.Ordinal, &sealed, &c.HasVector,
			&d.Namespace, &d.ID, &d.SourceType, &d.Title, &d.Fingerprint, &d.PolicyWeight,
			&d.ChunkCount, &d.SizeBytes, &lastSeen, &indexedAt); err != nil {
			return nil, kberrors.StorageError("failed to scan chunk", err)
		}
		plain, err := s.seal.open(sealed, chunkAAD(d.Namespace, c.ID))
		if err != nil {
			return nil, corrupt(s.path, fmt.Errorf("chunk %s: %w", c.ID, err))
		}
		c.Text = string(plain)
		c.Namespace = d.Namespace
		c.DocumentID = d.ID
		d.LastSeen = time.Unix(0, lastSeen)
		d.IndexedAt = time.Unix(0, indexedAt)
		out[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read chunks", err)
	}
	return out, nil
}

// Stats summarizes documents and chunks. An empty namespace covers all.
func (s *EncryptedStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	where, args := "", []any{}
	if namespace != "" {
		where, args = " WHERE namespace = ?", []any{namespace}
	}

	var st Stats
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(indexed_at) FROM documents`+where, args...).Scan(&st.Documents, &last); err != nil {
		return Stats{}, kberrors.StorageError("failed to count documents", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(1 - has_vector), 0) FROM chunks`+where, args...).Scan(&st.Chunks, &st.KeywordOnlyChunks); err != nil {
		return Stats{}, kberrors.StorageError("failed to count chunks", err)
	}
	if last.Valid {
		st.LastIndexedAt = time.Unix(0, last.Int64)
	}
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
