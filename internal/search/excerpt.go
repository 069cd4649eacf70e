package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

// ExcerptRunes is the width of a result excerpt.
const ExcerptRunes = 240

const ellipsis = "..."

func queryTerms(q string) []string {
	return store.Tokenize(q, 2)
}

// Excerpt returns the width-rune window of text holding the most query term
// occurrences, with whitespace collapsed. Windows cut mid-text are marked
// with an ellipsis. Without any match the excerpt is the start of the text.
func Excerpt(text string, terms []string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if width <= 0 || len(runes) <= width {
		return text
	}

	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	hits := termHits(string(lower), terms)

	start := 0
	bestCount := 0
	for _, h := range hits {
		s := h - width/4
		if s < 0 {
			s = 0
		}
		if s > len(runes)-width {
			s = len(runes) - width
		}
		n := 0
		for _, o := range hits {
			if o >= s && o < s+width {
				n++
			}
		}
		if n > bestCount {
			bestCount, start = n, s
		}
	}
	end := start + width

	// Snap to word boundaries when one is close.
	if start > 0 {
		for i := start; i < start+width/8 && i < end; i++ {
			if runes[i] == ' ' {
				start = i + 1
				break
			}
		}
	}
	if end < len(runes) {
		for i := end - 1; i > end-width/8 && i > start; i-- {
			if runes[i] == ' ' {
				end = i
				break
			}
		}
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = ellipsis + out
	}
	if end < len(runes) {
		out += ellipsis
	}
	return out
}

// termHits returns the rune offsets of every occurrence of every term.
func termHits(lower string, terms []string) []int {
	var hits []int
	for _, t := range terms {
		if t == "" {
			continue
		}
		for off := 0; off < len(lower); {
			i := strings.Index(lower[off:], t)
			if i < 0 {
				break
			}
			hits = append(hits, utf8.RuneCountInString(lower[:off+i]))
			off += i + len(t)
		}
	}
	return hits
}
