package ingestion

import (
	"strings"
	"unicode/utf8"

	"github.com/docchat/backend/internal/storage/models"
)

const (
	DefaultChunkSize     = 2000
	DefaultChunkOverlap  = 100
	DefaultChunksPerPage = 2
)

// Separators are tried in order; the empty separator splits between
// characters and always applies.
var DefaultSeparators = []string{"\n\n", "\n", ". ", ""}

// Chunker splits text recursively on a priority list of separators, then
// merges the pieces back into windows of at most chunkSize characters with
// chunkOverlap characters carried between neighbours.
type Chunker struct {
	chunkSize     int
	chunkOverlap  int
	chunksPerPage int
	separators    []string
}

type ChunkerOption func(*Chunker)

func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

func WithChunkOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.chunkOverlap = overlap
		}
	}
}

func WithChunksPerPage(n int) ChunkerOption {
	return func(c *Chunker) {
		if n > 0 {
			c.chunksPerPage = n
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		chunkSize:     DefaultChunkSize,
		chunkOverlap:  DefaultChunkOverlap,
		chunksPerPage: DefaultChunksPerPage,
		separators:    DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkOverlap >= c.chunkSize {
		c.chunkOverlap = c.chunkSize / 4
	}
	return c
}

// Chunk splits text and tags every segment with an approximate page:
// segment i lands on page i/chunksPerPage+1, capped at pageCount.
func (c *Chunker) Chunk(text, sourceID string, pageCount int) []models.DocumentChunk {
	segments := c.Split(text)
	if len(segments) == 0 {
		return nil
	}

	chunks := make([]models.DocumentChunk, 0, len(segments))
	for i, segment := range segments {
		chunks = append(chunks, models.DocumentChunk{
			ChunkIndex: i,
			PageNumber: c.pageFor(i, pageCount),
			SourceID:   sourceID,
			Text:       segment,
		})
	}
	return chunks
}

func (c *Chunker) pageFor(index, pageCount int) int {
	page := index/c.chunksPerPage + 1
	if pageCount > 0 && page > pageCount {
		page = pageCount
	}
	return page
}

// Split returns the ordered segments of text. Empty or whitespace-only input
// yields no segments.
func (c *Chunker) Split(text string) []string {
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeep(text, separator) {
		if runeLen(piece) <= c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, hardSplit(piece, c.chunkSize)...)
		} else {
			final = append(final, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// merge packs consecutive pieces into windows. When a window is emitted,
// pieces are dropped from its front until at most chunkOverlap characters
// remain, and those survivors open the next window.
func (c *Chunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeep splits on sep and keeps the separator at the end of the piece it
// terminated, so joining the pieces restores the input exactly.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.SplitAfter(text, sep)
	pieces := parts[:0]
	for _, p := range parts {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
