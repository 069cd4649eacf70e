package extract

import (
	"context"
	"html"
	"regexp"
	"strings"
)

var (
	titleTag           = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaDescription    = regexp.MustCompile(`(?is)<meta\s+[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	htmlComments       = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements      = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article|ul|ol|header|footer|nav|main)(\s[^>]*)?/?>`)
	cellElements       = regexp.MustCompile(`(?i)</t[dh]>`)
	allTags            = regexp.MustCompile(`<[^>]+>`)
	multiSpaces        = regexp.MustCompile(`[ \t\f\v]+`)
	spaceBeforeNewline = regexp.MustCompile(` *\n *`)
	multiNewlines      = regexp.MustCompile(`\n{3,}`)
)

// droppedBlocks are removed with their content. RE2 has no backreferences,
// so each element gets its own pattern.
var droppedBlocks = func() []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, tag := range []string{"script", "style", "noscript", "svg", "template", "head"} {
		out = append(out, regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*?</`+tag+`\s*>`))
	}
	return out
}()

// HTML strips tags, scripts and styles and decodes entities.
type HTML struct{}

// NewHTML creates an HTML extractor.
func NewHTML() *HTML { return &HTML{} }

// Format returns "html".
func (h *HTML) Format() string { return "html" }

// Extract converts HTML to readable text. The <title> becomes the title.
func (h *HTML) Extract(_ context.Context, raw []byte) (Result, error) {
	if IsBinary(raw) {
		return Result{}, errBinary
	}
	content := string(raw)

	var res Result
	if m := titleTag.FindStringSubmatch(content); len(m) > 1 {
		res.Title = strings.TrimSpace(html.UnescapeString(allTags.ReplaceAllString(m[1], "")))
	}
	if m := metaDescription.FindStringSubmatch(content); len(m) > 1 {
		res.Metadata = map[string]string{"description": html.UnescapeString(m[1])}
	}

	for _, re := range droppedBlocks {
		content = re.ReplaceAllString(content, "")
	}
	content = htmlComments.ReplaceAllString(content, "")
	content = blockElements.ReplaceAllString(content, "\n")
	content = cellElements.ReplaceAllString(content, " ")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = strings.ReplaceAll(content, "\u00a0", " ")

	res.Text = cleanText(content)
	return res, nil
}
