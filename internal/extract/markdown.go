package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeading    = regexp.MustCompile(`(?m)^[ \t]{0,3}(#{1,6})[ \t]+(.*?)[ \t]*#*[ \t]*$`)
	mdFence      = regexp.MustCompile("(?m)^[ \t]*(```|~~~).*$")
	mdInlineCode = regexp.MustCompile("`([^`\n]+)`")
	mdEmphasis   = regexp.MustCompile(`(^|[^\w*])(\*\*|__|\*|_)([^\s*_](?:[^*_\n]*[^\s*_])?)(\*\*|__|\*|_)`)
	mdQuote      = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	mdRule       = regexp.MustCompile(`(?m)^[ \t]*[-*_]([ \t]*[-*_]){2,}[ \t]*$`)
	mdBullet     = regexp.MustCompile(`(?m)^([ \t]*)[-*+][ \t]+`)
	mdHTMLTag    = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// Markdown strips Markdown syntax. YAML front matter is removed from the text
// and its scalar fields become metadata. Heading text is kept in place and
// also listed in metadata.
type Markdown struct{}

// NewMarkdown creates a Markdown extractor.
func NewMarkdown() *Markdown { return &Markdown{} }

// Format returns "markdown".
func (m *Markdown) Format() string { return "markdown" }

// Extract converts Markdown to plain text.
func (m *Markdown) Extract(_ context.Context, raw []byte) (Result, error) {
	if IsBinary(raw) {
		return Result{}, errBinary
	}
	body := strings.ReplaceAll(strings.TrimPrefix(string(raw), "\uFEFF"), "\r\n", "\n")
	meta := map[string]string{}

	front, rest, ok := splitFrontMatter(body)
	if ok {
		body = rest
		var fields map[string]any
		if err := yaml.Unmarshal([]byte(front), &fields); err == nil {
			for k, v := range fields {
				switch v.(type) {
				case string, int, float64, bool:
					meta[k] = strings.TrimSpace(fmt.Sprint(v))
				}
			}
		}
	}

	title := meta["title"]
	var headings []string
	for _, match := range mdHeading.FindAllStringSubmatch(body, -1) {
		h := strings.TrimSpace(match[2])
		if h == "" {
			continue
		}
		headings = append(headings, h)
		if title == "" && len(match[1]) == 1 {
			title = h
		}
	}
	if len(headings) > 0 {
		meta["headings"] = strings.Join(headings, " | ")
	}

	text := mdHeading.ReplaceAllString(body, "$2")
	text = mdFence.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdInlineCode.ReplaceAllString(text, "$1")
	text = mdEmphasis.ReplaceAllString(text, "$1$3")
	text = mdQuote.ReplaceAllString(text, "")
	text = mdRule.ReplaceAllString(text, "")
	text = mdBullet.ReplaceAllString(text, "$1")
	text = mdHTMLTag.ReplaceAllString(text, "")

	if len(meta) == 0 {
		meta = nil
	}
	return Result{Text: cleanText(text), Title: title, Metadata: meta}, nil
}

// splitFrontMatter separates a leading "---" delimited block.
func splitFrontMatter(s string) (front, rest string, ok bool) {
	if !strings.HasPrefix(s, "---\n") {
		return "", s, false
	}
	end := strings.Index(s[4:], "\n---")
	if end < 0 {
		return "", s, false
	}
	front = s[4 : 4+end]
	rest = s[4+end+4:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && strings.TrimSpace(rest[:nl]) == "" {
		rest = rest[nl+1:]
	} else if strings.TrimSpace(rest) == "" {
		rest = ""
	}
	return front, rest, true
}
