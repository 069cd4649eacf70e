package validation

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// MaxPathLen bounds a caller-supplied path in bytes.
const MaxPathLen = 4096

// sensitiveDirs are home-relative directories that are never ingested or
// watched, even when they sit inside the home root.
var sensitiveDirs = []string{
	".ssh",
	".gnupg",
	".aws",
	".azure",
	".kube",
	".docker",
	".password-store",
	".config/gcloud",
	"Library/Keychains",
}

// PathOption configures ValidateWithinHome.
type PathOption func(*pathOptions)

type pathOptions struct {
	autoCreate bool
}

// WithAutoCreate creates missing parent directories of the validated path
// with mode 0700. Creation happens only after every check passed.
func WithAutoCreate() PathOption {
	return func(o *pathOptions) {
		o.autoCreate = true
	}
}

// ValidateWithinHome resolves path against homeRoot and returns its canonical
// absolute form. Relative paths are joined to the root. Paths that escape the
// root lexically or through a symlink, and paths inside a sensitive
// directory, are rejected.
func ValidateWithinHome(path, homeRoot string, opts ...PathOption) (string, error) {
	var o pathOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkPathString(path); err != nil {
		return "", err
	}
	if err := checkPathString(homeRoot); err != nil {
		return "", err
	}

	homeAbs, err := filepath.Abs(homeRoot)
	if err != nil {
		return "", invalidPath("home root cannot be resolved")
	}
	home, err := filepath.EvalSymlinks(homeAbs)
	if err != nil {
		return "", invalidPath("home root does not exist")
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(home, candidate)
	}
	candidate = filepath.Clean(candidate)

	// An absolute path spelled through the unresolved root is rebased.
	if _, ok := within(home, candidate); !ok {
		if rel, ok := within(homeAbs, candidate); ok {
			candidate = filepath.Join(home, rel)
		}
	}
	if _, ok := within(home, candidate); !ok {
		return "", traversal(path)
	}

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", invalidPath("path cannot be resolved")
	}
	rel, ok := within(home, resolved)
	if !ok {
		return "", traversal(path)
	}

	if dir := sensitiveMatch(rel); dir != "" {
		return "", kberrors.ValidationError(kberrors.ErrCodeSensitivePath, "path is inside a protected directory").
			WithDetail("directory", dir)
	}

	if o.autoCreate {
		if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
			return "", kberrors.New(kberrors.ErrCodeFilePermission, "cannot create parent directories", err)
		}
	}

	return resolved, nil
}

// IsWithinHome reports whether ValidateWithinHome accepts path.
func IsWithinHome(path, homeRoot string) bool {
	_, err := ValidateWithinHome(path, homeRoot)
	return err == nil
}

func checkPathString(p string) error {
	switch {
	case p == "":
		return invalidPath("path is empty")
	case len(p) > MaxPathLen:
		return invalidPath("path exceeds maximum length")
	case strings.IndexByte(p, 0) >= 0:
		return invalidPath("path contains a NUL byte")
	case !utf8.ValidString(p):
		return invalidPath("path is not valid UTF-8")
	}
	return nil
}

// within returns target relative to root when target is root or below it.
func within(root, target string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	existing := p
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p, nil
		}
		tail = append(tail, filepath.Base(existing))
		existing = parent
	}

	resolvedPrefix, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolvedPrefix = filepath.Join(resolvedPrefix, tail[i])
	}
	return resolvedPrefix, nil
}

func sensitiveMatch(rel string) string {
	rel = filepath.ToSlash(rel)
	for _, dir := range sensitiveDirs {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return dir
		}
	}
	return ""
}

func invalidPath(msg string) error {
	return kberrors.ValidationError(kberrors.ErrCodeInvalidPath, msg)
}

func traversal(path string) error {
	return kberrors.ValidationError(kberrors.ErrCodePathTraversal, "path escapes the home root").
		WithDetail("path", path)
}
