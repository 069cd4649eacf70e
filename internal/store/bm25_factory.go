package store

import (
	"fmt"
	"os"
)

// BM25Backend names a keyword index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default).
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve; single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend opens a keyword index of the given backend at
// basePath plus the backend's extension (.db or .bleve). An empty basePath
// creates an in-memory index.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendSQLite, "":
		return NewSQLiteBM25Index(withExt(basePath, ".db"), config)
	case BM25BackendBleve:
		return NewBleveBM25Index(withExt(basePath, ".bleve"), config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend has files at basePath, or "".
func DetectBM25Backend(basePath string) BM25Backend {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return BM25BackendSQLite
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return BM25BackendBleve
	}
	return ""
}

func withExt(basePath, ext string) string {
	if basePath == "" {
		return ""
	}
	return basePath + ext
}
