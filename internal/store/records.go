package store

import "time"

// DocumentRecord is the metadata row of one ingested document. ID is the
// canonical path or URL.
type DocumentRecord struct {
	Namespace    string
	ID           string
	SourceType   string
	Title        string
	Fingerprint  string
	PolicyWeight float64
	ChunkCount   int
	SizeBytes    int64
	LastSeen     time.Time
	IndexedAt    time.Time
}

// ChunkRecord is the metadata row of one chunk. HasVector is false for a
// chunk whose embedding failed and which is indexed by keyword only.
type ChunkRecord struct {
	ID         string
	Namespace  string
	DocumentID string
	Ordinal    int
	Text       string
	HasVector  bool
}

// ChunkDetail is a chunk joined with its document.
type ChunkDetail struct {
	ChunkRecord
	Document DocumentRecord
}

// Stats summarizes the metadata store, optionally for one namespace.
type Stats struct {
	Documents         int
	Chunks            int
	KeywordOnlyChunks int
	LastIndexedAt     time.Time
}
