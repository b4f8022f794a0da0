package store

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/ivansantander-hub/docuchat/internal/chunk"
	"github.com/ivansantander-hub/docuchat/internal/errors"
)

// Index is an in-memory HNSW vector index that stores chunk payloads
// alongside their embeddings. Internal keys are assigned from a monotonic
// sequence, so ascending key order is insertion order. That ordering is used
// as the deterministic tie-break when two matches are equidistant.
//
// Document removal is lazy: the graph node stays behind as an orphan but its
// payload mapping is dropped, so it can never appear in results. Orphans are
// shed naturally the next time the index is exported and re-imported, since
// only live chunks are serialized.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	opts  Options

	dims    int
	nextKey uint64

	// chunks maps internal key -> payload. A graph node without an entry
	// here is an orphan left by lazy deletion.
	chunks map[uint64]chunk.Chunk

	// docKeys maps source document -> its live keys in insertion order.
	docKeys map[string][]uint64

	closed bool
}

// indexBlob is the gob wire form of an Index.
type indexBlob struct {
	Dimensions int
	Chunks     []chunk.Chunk
	Vectors    [][]float32
	Options    Options
}

// New creates an empty index for vectors of the given dimension.
func New(dims int, opts Options) *Index {
	if opts.M == 0 {
		opts.M = DefaultOptions().M
	}
	if opts.EfSearch == 0 {
		opts.EfSearch = DefaultOptions().EfSearch
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = opts.M
	graph.EfSearch = opts.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:   graph,
		opts:    opts,
		dims:    dims,
		chunks:  make(map[uint64]chunk.Chunk),
		docKeys: make(map[string][]uint64),
	}
}

// Add appends embedded chunks to the index in order. Every chunk must carry
// an embedding of the index dimension.
func (x *Index) Add(chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return errors.Newf(errors.ErrCodeInternal, "index is closed")
	}

	for i, c := range chunks {
		if len(c.Embedding) != x.dims {
			return errors.Newf(errors.ErrCodeInvalidInput,
				"chunk %d of %q: embedding dimension %d, index expects %d",
				i, c.Source, len(c.Embedding), x.dims)
		}
	}

	for _, c := range chunks {
		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		normalizeInPlace(vec)

		x.graph.Add(hnsw.MakeNode(key, vec))

		// The graph owns the vector; keep only the payload here.
		c.Embedding = nil
		x.chunks[key] = c
		x.docKeys[c.Source] = append(x.docKeys[c.Source], key)
	}

	return nil
}

// RemoveDocument drops all chunks of a source document and returns how many
// were removed. The graph nodes are orphaned rather than deleted, which
// avoids graph surgery on the live structure.
func (x *Index) RemoveDocument(source string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return 0
	}

	keys, ok := x.docKeys[source]
	if !ok {
		return 0
	}

	for _, key := range keys {
		delete(x.chunks, key)
	}
	delete(x.docKeys, source)

	return len(keys)
}

// HasDocument reports whether the source document has live chunks.
func (x *Index) HasDocument(source string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	_, ok := x.docKeys[source]
	return ok
}

// Documents returns the source documents with live chunks, sorted by name.
func (x *Index) Documents() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	docs := make([]string, 0, len(x.docKeys))
	for source := range x.docKeys {
		docs = append(docs, source)
	}
	sort.Strings(docs)
	return docs
}

// DocumentChunkCount returns the number of live chunks for a source document.
func (x *Index) DocumentChunkCount(source string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.docKeys[source])
}

// Search returns up to k nearest chunks to the query vector, ordered by
// ascending distance. Equal distances are broken by insertion order, oldest
// first.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, errors.Newf(errors.ErrCodeInternal, "index is closed")
	}
	if k <= 0 {
		return []Result{}, nil
	}
	if len(query) != x.dims {
		return nil, errors.Newf(errors.ErrCodeInvalidInput,
			"query dimension %d, index expects %d", len(query), x.dims)
	}
	if len(x.chunks) == 0 {
		return []Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Oversample by the orphan count so lazily deleted nodes cannot crowd
	// out live matches.
	orphans := x.graph.Len() - len(x.chunks)
	nodes := x.graph.Search(normalized, k+orphans)

	type candidate struct {
		key    uint64
		result Result
	}
	candidates := make([]candidate, 0, min(k, len(nodes)))
	for _, node := range nodes {
		c, live := x.chunks[node.Key]
		if !live {
			continue
		}

		distance := x.graph.Distance(normalized, node.Value)
		candidates = append(candidates, candidate{
			key: node.Key,
			result: Result{
				Chunk:    c,
				Distance: distance,
				Score:    distanceToScore(distance),
			},
		})
	}

	// The graph returns candidates sorted by distance, but the order among
	// equidistant nodes is unspecified. Re-sort with the insertion-order
	// tie-break to keep results deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].result.Distance != candidates[j].result.Distance {
			return candidates[i].result.Distance < candidates[j].result.Distance
		}
		return candidates[i].key < candidates[j].key
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

// Count returns the number of live chunks.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.chunks)
}

// Dimensions returns the embedding dimension the index was created with.
func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.dims
}

// Export serializes the index to w. Only live chunks are written, so orphans
// left by lazy deletion are compacted away on the next Import.
func (x *Index) Export(w io.Writer) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return errors.Newf(errors.ErrCodeInternal, "index is closed")
	}

	// Walk documents, then keys, in insertion order so an imported index
	// reproduces the same tie-break ordering.
	keys := make([]uint64, 0, len(x.chunks))
	for _, docKeys := range x.docKeys {
		keys = append(keys, docKeys...)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	blob := indexBlob{
		Dimensions: x.dims,
		Chunks:     make([]chunk.Chunk, 0, len(keys)),
		Vectors:    make([][]float32, 0, len(keys)),
		Options:    x.opts,
	}
	for _, key := range keys {
		c := x.chunks[key]
		node, ok := x.graph.Lookup(key)
		if !ok {
			return errors.Newf(errors.ErrCodeCorruptStore,
				"chunk %d of %q has no graph node", c.Index, c.Source)
		}
		blob.Chunks = append(blob.Chunks, c)
		blob.Vectors = append(blob.Vectors, node)
	}

	if err := gob.NewEncoder(w).Encode(blob); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to encode index", err)
	}
	return nil
}

// Import reads an index previously written by Export.
func Import(r io.Reader) (*Index, error) {
	var blob indexBlob
	if err := gob.NewDecoder(bufio.NewReader(r)).Decode(&blob); err != nil {
		return nil, errors.New(errors.ErrCodeCorruptStore, "failed to decode index", err)
	}
	if len(blob.Chunks) != len(blob.Vectors) {
		return nil, errors.Newf(errors.ErrCodeCorruptStore,
			"index blob has %d chunks but %d vectors", len(blob.Chunks), len(blob.Vectors))
	}

	x := New(blob.Dimensions, blob.Options)
	for i := range blob.Chunks {
		c := blob.Chunks[i]
		c.Embedding = blob.Vectors[i]
		if err := x.Add([]chunk.Chunk{c}); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Bytes serializes the index to a byte slice.
func (x *Index) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := x.Export(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close releases the index. Further operations fail.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	x.chunks = nil
	x.docKeys = nil
	return nil
}
