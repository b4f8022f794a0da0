package chunk

import (
	"strings"
	"unicode/utf8"
)

// defaultSeparators is the separator priority: paragraph, line, sentence,
// then fixed-width as the last resort.
var defaultSeparators = []string{"\n\n", "\n", ". "}

// SplitterOptions configures the recursive splitter.
type SplitterOptions struct {
	ChunkSize    int // Target chunk size in runes (default: DefaultChunkSize)
	ChunkOverlap int // Overlap between consecutive chunks in runes (default: DefaultChunkOverlap, negative: none)
}

// Splitter splits text using a recursive, separator-priority strategy so that
// chunk boundaries fall on natural breaks where possible and consecutive
// chunks share overlapping content.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter with the given options.
func NewSplitter(opts SplitterOptions) *Splitter {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := opts.ChunkOverlap
	switch {
	case overlap == 0:
		overlap = DefaultChunkOverlap
	case overlap < 0:
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{
		chunkSize:    size,
		chunkOverlap: overlap,
		separators:   defaultSeparators,
	}
}

// Split splits rawText into chunks attributed to the given source document.
// Empty or whitespace-only input yields no chunks. Embeddings are left empty.
func (s *Splitter) Split(rawText, source string) []Chunk {
	if strings.TrimSpace(rawText) == "" {
		return nil
	}

	pieces := s.fragments(rawText, s.separators)
	texts := s.merge(pieces)

	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, Chunk{
			Text:   text,
			Source: source,
			Index:  i,
		})
	}
	return chunks
}

// fragments recursively splits text into pieces no longer than chunkSize,
// preferring higher-priority separators.
func (s *Splitter) fragments(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.fixedWidth(text)
	}

	sep := separators[0]
	rest := separators[1:]
	if !strings.Contains(text, sep) {
		return s.fragments(text, rest)
	}

	var out []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= s.chunkSize {
			out = append(out, part)
		} else {
			out = append(out, s.fragments(part, rest)...)
		}
	}
	return out
}

// fixedWidth slices text into overlapping windows of chunkSize runes.
// This is the last-resort split for text with no usable separators; the
// window step bakes in the configured overlap directly.
func (s *Splitter) fixedWidth(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.chunkOverlap
	if step <= 0 {
		step = s.chunkSize
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// merge greedily packs fragments into chunks of at most chunkSize runes.
// When a chunk is emitted, the next chunk starts with the trailing fragments
// of the previous one (up to chunkOverlap runes) so that no information falls
// entirely between two chunk boundaries.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		text := strings.TrimSpace(strings.Join(current, ""))
		if text != "" {
			chunks = append(chunks, text)
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)

		if currentLen+pieceLen > s.chunkSize && currentLen > 0 {
			flush()

			// Carry trailing fragments as overlap into the next chunk.
			var tail []string
			tailLen := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(current[i])
				if tailLen+l > s.chunkOverlap || tailLen+l+pieceLen > s.chunkSize {
					break
				}
				tail = append([]string{current[i]}, tail...)
				tailLen += l
			}
			current = tail
			currentLen = tailLen
		}

		current = append(current, piece)
		currentLen += pieceLen
	}

	if currentLen > 0 {
		flush()
	}
	return chunks
}
