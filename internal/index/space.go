package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

const (
	spacesDir       = "indexes"
	vectorFileName  = "vectors.hnsw"
	keywordBaseName = "keyword"
)

// Space holds one namespace's vector and keyword indexes. Writers hold the
// write lock for the whole delete-and-insert; searches hold the read lock, so
// they see either the state before an update or after it.
type Space struct {
	name string
	dir  string

	mu      sync.RWMutex
	vector  *store.HNSWStore
	keyword store.BM25Index
	dirty   bool
}

// Name returns the namespace.
func (s *Space) Name() string { return s.name }

// View runs fn under the read lock.
func (s *Space) View(fn func(vector store.VectorStore, keyword store.BM25Index) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.vector, s.keyword)
}

func (s *Space) vectorPath() string { return filepath.Join(s.dir, vectorFileName) }

// openSpace loads or creates the indexes under dir. A vector file written with
// a different dimension, or one that fails to load, is set aside and an empty
// index takes its place; the consistency checker then re-chunks the affected
// documents.
func openSpace(name, dir string, dims int, opts Options) (*Space, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, kberrors.StorageError("failed to create index directory", err).WithDetail("namespace", name)
	}

	s := &Space{name: name, dir: dir}

	vcfg := store.DefaultVectorStoreConfig(dims)
	vcfg.Metric = opts.VectorMetric
	vec, err := store.NewHNSWStore(vcfg)
	if err != nil {
		return nil, kberrors.StorageError("failed to create vector index", err)
	}
	if _, statErr := os.Stat(s.vectorPath()); statErr == nil {
		if err := vec.Load(s.vectorPath()); err != nil {
			var dm store.ErrDimensionMismatch
			level := slog.LevelWarn
			if errors.As(err, &dm) {
				level = slog.LevelInfo
			}
			slog.Log(context.Background(), level, "vector_index_reset",
				slog.String("namespace", name),
				slog.String("error", err.Error()))
			_ = os.Rename(s.vectorPath(), s.vectorPath()+".bak")
			_ = os.Rename(s.vectorPath()+".meta", s.vectorPath()+".meta.bak")
		}
	}
	s.vector = vec

	base := filepath.Join(dir, keywordBaseName)
	backend := string(store.DetectBM25Backend(base))
	if backend == "" {
		backend = opts.BM25Backend
	}
	kw, err := store.NewBM25IndexWithBackend(base, opts.BM25, backend)
	if err != nil {
		_ = vec.Close()
		return nil, kberrors.StorageError("failed to open keyword index", err).WithDetail("namespace", name)
	}
	s.keyword = kw
	return s, nil
}

// flush persists the vector graph when it changed. The keyword backends
// persist on write; Save only checkpoints.
func (s *Space) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.vector.Save(s.vectorPath()); err != nil {
		return kberrors.StorageError("failed to save vector index", err).WithDetail("namespace", s.name)
	}
	if err := s.keyword.Save(""); err != nil {
		return kberrors.StorageError("failed to checkpoint keyword index", err).WithDetail("namespace", s.name)
	}
	s.dirty = false
	return nil
}

func (s *Space) close() error {
	var errs []error
	if err := s.flush(); err != nil {
		errs = append(errs, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.keyword.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close keyword index %s: %w", s.name, err))
	}
	if err := s.vector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close vector index %s: %w", s.name, err))
	}
	return errors.Join(errs...)
}
