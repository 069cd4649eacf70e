package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// Chunker produces fixed-size rune windows with overlap. It is stateless and
// safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. A non-positive size uses DefaultSize; an overlap
// that is negative or not smaller than size falls back to size/4.
func New(opts Options) *Chunker {
	c := &Chunker{size: opts.Size, overlap: opts.Overlap}
	if c.size <= 0 {
		c.size = DefaultSize
	}
	if c.overlap < 0 || c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into ordered chunks covering all of it. Empty or
// whitespace-only text yields no chunks; text no longer than one window
// yields exactly one. Windows end on whitespace when one falls in the last
// fifth of the window.
func (c *Chunker) Chunk(docID, fingerprint, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := c.size - c.overlap
	chunks := make([]Chunk, 0, n/step+1)

	start, prevEnd := 0, 0
	for ordinal := 0; start < n; ordinal++ {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			from := start + c.size - c.size/snapWindow
			if from < prevEnd {
				from = prevEnd
			}
			end = snapToSpace(runes, from, end)
		}

		overlap := 0
		if ordinal > 0 {
			overlap = prevEnd - start
		}
		chunks = append(chunks, Chunk{
			ID:         ChunkID(docID, ordinal, fingerprint),
			DocumentID: docID,
			Ordinal:    ordinal,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
			Overlap:    overlap,
		})

		if end == n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		prevEnd = end
		start = next
	}

	return chunks
}

// snapToSpace moves end back to just after the last whitespace rune in
// runes[from:end]. It returns end unchanged when there is none.
func snapToSpace(runes []rune, from, end int) int {
	for i := end - 1; i >= from && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// ChunkID derives a stable identifier from the owning document, the chunk's
// position and the document fingerprint. Re-chunking unchanged content
// reproduces the same identifiers; any content change yields new ones.
func ChunkID(docID string, ordinal int, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Fingerprint returns the sha256 hex digest of raw document bytes.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
