// Package chunk splits raw documents into overlapping retrievable chunks.
package chunk

// Chunk represents a bounded span of a source document, embedded independently
// for retrieval. Immutable once written into a store.
type Chunk struct {
	// Text is the chunk content.
	Text string `json:"text"`

	// Source is the originating document name (e.g., "policy.txt").
	Source string `json:"source"`

	// Index is the 0-based position of this chunk within its document.
	Index int `json:"index"`

	// Embedding is the chunk's embedding vector. Empty until the
	// ingestion pipeline has embedded the chunk.
	Embedding []float32 `json:"-"`
}

// Default splitter parameters.
const (
	// DefaultChunkSize is the target chunk size in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between consecutive chunks in runes.
	DefaultChunkOverlap = 200
)
