// Package extract turns raw document bytes into indexable plain text.
//
// Each format has an Extractor. A Registry selects one by file extension or
// MIME type. Extraction failures are reported as extraction errors so the
// document keeps its prior indexed state.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// Result is the extracted content of one document.
type Result struct {
	Text     string
	Title    string
	Format   string
	Metadata map[string]string
}

// Extractor converts raw bytes of one format to text.
type Extractor interface {
	Extract(ctx context.Context, raw []byte) (Result, error)
	Format() string
}

// Registry maps extensions and MIME types to extractors.
type Registry struct {
	byExt  map[string]Extractor
	byMIME map[string]Extractor
}

// NewRegistry returns a registry with the plain text, Markdown and HTML extractors.
func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]Extractor{}, byMIME: map[string]Extractor{}}
	r.Register(NewPlainText(), []string{".txt", ".text", ".log", ".csv", ".rst"}, []string{"text/plain", "text/csv"})
	r.Register(NewMarkdown(), []string{".md", ".markdown", ".mdx"}, []string{"text/markdown", "text/x-markdown"})
	r.Register(NewHTML(), []string{".html", ".htm", ".xhtml"}, []string{"text/html", "application/xhtml+xml"})
	return r
}

// Register binds e to the given extensions and MIME types, replacing earlier bindings.
func (r *Registry) Register(e Extractor, exts, mimeTypes []string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = e
	}
	for _, mt := range mimeTypes {
		r.byMIME[strings.ToLower(mt)] = e
	}
}

// ForPath returns the extractor for path's extension.
func (r *Registry) ForPath(path string) (Extractor, bool) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return e, ok
}

// ForContentType returns the extractor for a Content-Type header value.
func (r *Registry) ForContentType(contentType string) (Extractor, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	e, ok := r.byMIME[strings.ToLower(strings.TrimSpace(mt))]
	return e, ok
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

// ExtractPath extracts raw using the extractor for path. Unsupported
// extensions and extractor failures are extraction errors.
func (r *Registry) ExtractPath(ctx context.Context, path string, raw []byte) (Result, error) {
	e, ok := r.ForPath(path)
	if !ok {
		return Result{}, kberrors.ExtractionError(fmt.Sprintf("unsupported file type %q", filepath.Ext(path)), nil).
			WithDetail("path", path)
	}
	res, err := run(ctx, e, raw)
	if err != nil {
		return Result{}, err
	}
	if res.Title == "" {
		res.Title = titleFromName(path)
	}
	return res, nil
}

// ExtractContent extracts raw using the extractor for contentType, falling
// back to the extension of name when the type is unknown.
func (r *Registry) ExtractContent(ctx context.Context, name, contentType string, raw []byte) (Result, error) {
	if e, ok := r.ForContentType(contentType); ok {
		res, err := run(ctx, e, raw)
		if err == nil && res.Title == "" {
			res.Title = titleFromName(name)
		}
		return res, err
	}
	return r.ExtractPath(ctx, name, raw)
}

func run(ctx context.Context, e Extractor, raw []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, kberrors.New(kberrors.ErrCodeExtractTimeout, "extraction interrupted", err)
	}
	res, err := e.Extract(ctx, raw)
	if err != nil {
		if _, ok := kberrors.As(err); ok {
			return Result{}, err
		}
		return Result{}, kberrors.ExtractionError(e.Format()+" extraction failed", err)
	}
	res.Format = e.Format()
	return res, nil
}

// IsBinary reports whether raw looks like binary content: a NUL byte in the
// first 8KB, or a prefix that is mostly invalid UTF-8.
func IsBinary(raw []byte) bool {
	head := raw
	if len(head) > 8192 {
		head = head[:8192]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	invalid := 0
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		head = head[size:]
	}
	return invalid > 0 && invalid*10 > min(len(raw), 8192)
}

// cleanText repairs encoding, normalizes line endings and collapses runs of
// blank lines.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = multiSpaces.ReplaceAllString(s, " ")
	s = spaceBeforeNewline.ReplaceAllString(s, "\n")
	s = multiNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// titleFromName derives a title from a file name or URL path.
func titleFromName(name string) string {
	base := filepath.Base(strings.TrimRight(name, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSpace(base)
}
