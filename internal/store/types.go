// Package store implements the HNSW-backed vector index that holds the
// embedded chunks of a docbase together with their payloads.
package store

import (
	"math"

	"github.com/ivansantander-hub/docuchat/internal/chunk"
)

// Result is a single nearest-neighbor match.
type Result struct {
	// Chunk is the stored chunk payload, including its source document.
	Chunk chunk.Chunk

	// Distance is the cosine distance to the query (0 identical, 2 opposite).
	Distance float32

	// Score is a similarity score in [0, 1] derived from Distance.
	Score float32
}

// Options tunes the underlying HNSW graph.
type Options struct {
	// M is the maximum number of neighbors per node.
	M int
	// EfSearch is the candidate list size during search.
	EfSearch int
}

// DefaultOptions returns the recommended graph parameters.
func DefaultOptions() Options {
	return Options{M: 16, EfSearch: 20}
}

// distanceToScore converts a cosine distance (0-2) to a similarity score (0-1).
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}

// normalizeInPlace scales a vector to unit length. Zero vectors are left as-is.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
