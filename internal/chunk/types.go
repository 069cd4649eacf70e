// Package chunk splits extracted document text into overlapping,
// size-bounded chunks with content-derived identifiers.
package chunk

// Chunk size defaults, in runes.
const (
	DefaultSize    = 1200
	DefaultOverlap = 150

	// snapWindow is the trailing fraction of a window searched for a
	// whitespace boundary.
	snapWindow = 5
)

// Chunk is a bounded span of a document's text.
type Chunk struct {
	// ID is ChunkID(DocumentID, Ordinal, fingerprint).
	ID         string
	DocumentID string
	Ordinal    int
	Text       string

	// Start and End are rune offsets into the source text, End exclusive.
	Start int
	End   int

	// Overlap is the number of leading runes shared with the previous chunk.
	Overlap int
}

// Fresh returns the part of the chunk not shared with its predecessor.
// Concatenating Fresh over all chunks of a document reproduces its text.
func (c Chunk) Fresh() string {
	if c.Overlap == 0 {
		return c.Text
	}
	r := []rune(c.Text)
	if c.Overlap >= len(r) {
		return ""
	}
	return string(r[c.Overlap:])
}

// Options configures a Chunker.
type Options struct {
	Size    int
	Overlap int
}
