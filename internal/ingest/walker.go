package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/extract"
	"github.com/saagar210/AssistSupport-sub002/internal/gitignore"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// ignoreCacheSize bounds the number of per-directory ignore matchers kept
// across passes.
const ignoreCacheSize = 1000

// DefaultMaxFileSize applies when no limit is configured.
const DefaultMaxFileSize = 10 * 1024 * 1024

// binarySniffLen is how much of a file is read to detect binary content.
const binarySniffLen = 8192

// IgnoreFiles are read in every walked directory. Their patterns apply to
// that directory and below.
var IgnoreFiles = []string{".gitignore", ".kbignore"}

// sensitivePatterns are never ingested regardless of configuration.
var sensitivePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	"*.kdbx",
}

// File is a discovered file that passed every filter.
type File struct {
	// Path is the canonical absolute path, used as the document ID.
	Path string
	// Rel is slash-separated and relative to the walk root.
	Rel     string
	Size    int64
	ModTime time.Time
}

// WalkResult carries either a file or a per-path error. Per-path errors do
// not stop the walk.
type WalkResult struct {
	File *File
	Path string
	Err  error
}

// WalkOptions selects what to walk.
type WalkOptions struct {
	// Root is the source folder.
	Root string
	// Subtree restricts the walk to a directory below Root. Empty walks Root.
	Subtree string

	Include []string
	Exclude []string
}

// Walker discovers ingestible files below the home root.
type Walker struct {
	homeRoot    string
	maxFileSize int64
	builtin     *gitignore.Matcher
	supported   func(path string) bool

	ignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu     sync.Mutex
}

// NewWalker creates a Walker. exclude holds configured gitignore-syntax
// patterns applied to every source; supported filters by file name.
func NewWalker(homeRoot string, maxFileSize int64, exclude []string, supported func(path string) bool) (*Walker, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	builtin, err := gitignore.FromPatterns(append(append([]string(nil), sensitivePatterns...), exclude...))
	if err != nil {
		return nil, kberrors.ConfigError("invalid ingest exclude pattern", err)
	}
	cache, err := lru.New[string, *gitignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create ignore cache: %w", err)
	}
	if supported == nil {
		supported = func(string) bool { return true }
	}
	return &Walker{
		homeRoot:    homeRoot,
		maxFileSize: maxFileSize,
		builtin:     builtin,
		supported:   supported,
		ignoreCache: cache,
	}, nil
}

// InvalidateIgnoreCache drops cached ignore files. The watcher calls it when
// an ignore file changes.
func (w *Walker) InvalidateIgnoreCache() {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.ignoreCache.Purge()
}

// Walk streams the files below opts.Root (or opts.Subtree). The channel is
// closed when the walk ends. A cancelled context ends the walk with a final
// result carrying the context error.
//
// Callers must drain the channel.
func (w *Walker) Walk(ctx context.Context, opts WalkOptions) (<-chan WalkResult, error) {
	root, start, err := w.Scope(opts)
	if err != nil {
		return nil, err
	}

	include, err := gitignore.FromPatterns(opts.Include)
	if err != nil {
		return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidInput, "invalid include pattern").WithDetail("error", err.Error())
	}
	exclude, err := gitignore.FromPatterns(opts.Exclude)
	if err != nil {
		return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidInput, "invalid exclude pattern").WithDetail("error", err.Error())
	}

	results := make(chan WalkResult, 64)
	wk := &walk{w: w, root: root, include: include, exclude: exclude, out: results}

	go func() {
		defer close(results)
		if start == "" {
			return
		}
		if rel := wk.rel(start); rel != "" && wk.dirExcluded(rel) {
			return
		}
		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err != nil {
				if path == start {
					return err
				}
				return wk.emit(ctx, WalkResult{Path: path, Err: err})
			}
			return wk.visit(ctx, path, d)
		})
		if err != nil && ctx.Err() == nil {
			results <- WalkResult{Path: start, Err: err}
		}
	}()
	return results, nil
}

// Scope validates opts and returns the canonical source root and the
// directory the walk starts from. start is empty when the subtree no longer
// exists.
func (w *Walker) Scope(opts WalkOptions) (root, start string, err error) {
	root, err = validation.ValidateWithinHome(opts.Root, w.homeRoot)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", "", kberrors.New(kberrors.ErrCodeFileNotFound, "source folder not found", err).
			WithDetail("path", opts.Root)
	}
	if !info.IsDir() {
		return "", "", kberrors.ValidationError(kberrors.ErrCodeInvalidPath, "source location is not a directory").
			WithDetail("path", opts.Root)
	}
	if opts.Subtree == "" {
		return root, root, nil
	}
	start, err = w.subtree(root, opts.Subtree)
	if err != nil {
		return "", "", err
	}
	return root, start, nil
}

// subtree resolves sub inside root. A subtree that no longer exists yields
// an empty walk.
func (w *Walker) subtree(root, sub string) (string, error) {
	if !filepath.IsAbs(sub) {
		sub = filepath.Join(root, sub)
	}
	sub = filepath.Clean(sub)
	if _, err := os.Lstat(sub); errors.Is(err, fs.ErrNotExist) {
		rel, rerr := filepath.Rel(root, sub)
		if rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", kberrors.ValidationError(kberrors.ErrCodePathTraversal, "subtree is outside the source folder").
				WithDetail("path", sub)
		}
		return "", nil
	}
	resolved, err := validation.ValidateWithinHome(sub, w.homeRoot)
	if err != nil {
		return "", err
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", kberrors.ValidationError(kberrors.ErrCodePathTraversal, "subtree is outside the source folder").
			WithDetail("path", sub)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil
	}
	if !info.IsDir() {
		return filepath.Dir(resolved), nil
	}
	return resolved, nil
}

// walk is the state of one Walk call.
type walk struct {
	w       *Walker
	root    string
	include *gitignore.Matcher
	exclude *gitignore.Matcher
	out     chan<- WalkResult
}

func (wk *walk) emit(ctx context.Context, r WalkResult) error {
	select {
	case wk.out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wk *walk) rel(path string) string {
	rel, err := filepath.Rel(wk.root, path)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (wk *walk) visit(ctx context.Context, path string, d fs.DirEntry) error {
	rel := wk.rel(path)
	if rel == "" {
		return nil
	}

	if d.IsDir() {
		if wk.excluded(rel, true) {
			return filepath.SkipDir
		}
		return nil
	}
	if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
		return nil
	}
	if isIgnoreFile(d.Name()) || wk.excluded(rel, false) {
		return nil
	}
	if wk.include.Len() > 0 && !wk.include.Match(rel, false) {
		return nil
	}
	if !wk.w.supported(path) {
		return nil
	}

	// Symlinks are followed only when they resolve inside the home root.
	canonical, err := validation.ValidateWithinHome(path, wk.w.homeRoot)
	if err != nil {
		return wk.emit(ctx, WalkResult{Path: path, Err: err})
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return wk.emit(ctx, WalkResult{Path: path, Err: err})
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if info.Size() > wk.w.maxFileSize {
		return nil
	}
	if binary, err := sniffBinary(canonical); err != nil || binary {
		return nil
	}

	return wk.emit(ctx, WalkResult{File: &File{
		Path:    canonical,
		Rel:     rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, Path: canonical})
}

// excluded applies built-in, source and ignore-file rules to rel. Ignore
// files are read from the root and from every ancestor directory of rel.
func (wk *walk) excluded(rel string, isDir bool) bool {
	if wk.w.builtin.Match(rel, isDir) || wk.exclude.Match(rel, isDir) {
		return true
	}
	if m := wk.w.ignoreMatcher(wk.root, ""); m != nil && m.Match(rel, isDir) {
		return true
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] != '/' {
			continue
		}
		if m := wk.w.ignoreMatcher(wk.root, rel[:i]); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// dirExcluded checks every ancestor of a subtree start and the start itself.
func (wk *walk) dirExcluded(rel string) bool {
	parts := strings.Split(rel, "/")
	for i := range parts {
		if wk.excluded(strings.Join(parts[:i+1], "/"), true) {
			return true
		}
	}
	return false
}

// ignoreMatcher returns the rules of the ignore files in root/dir, or nil
// when there are none. Patterns are based at dir.
func (w *Walker) ignoreMatcher(root, dir string) *gitignore.Matcher {
	abs := filepath.Join(root, filepath.FromSlash(dir))

	w.cacheMu.Lock()
	m, ok := w.ignoreCache.Get(abs)
	w.cacheMu.Unlock()
	if ok {
		return m
	}

	m = gitignore.New()
	for _, name := range IgnoreFiles {
		p := filepath.Join(abs, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		// Bad lines are skipped; the rest of the file still applies.
		_ = m.AddFile(p, dir)
	}
	if m.Len() == 0 {
		m = nil
	}

	w.cacheMu.Lock()
	w.ignoreCache.Add(abs, m)
	w.cacheMu.Unlock()
	return m
}

func isIgnoreFile(name string) bool {
	for _, n := range IgnoreFiles {
		if name == n {
			return true
		}
	}
	return false
}

func sniffBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return extract.IsBinary(buf[:n]), nil
}
