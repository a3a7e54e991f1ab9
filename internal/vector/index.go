// Package vector holds the per-document in-memory similarity index.
package vector

import (
	"math"
	"sort"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
)

// Index is immutable once built and safe for concurrent searches.
type Index struct {
	docID   string
	dim     int
	chunks  []models.DocumentChunk
	vectors [][]float32
	norms   []float64
}

type SearchResult struct {
	Chunk models.DocumentChunk
	Score float64
}

// NewIndex pairs chunks with their vectors. All vectors must share one
// dimension; chunk order is kept as given.
func NewIndex(docID string, chunks []models.DocumentChunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ragerr.New(ragerr.ErrRetrieval, "document %s has no chunks to index", docID)
	}
	if len(chunks) != len(vectors) {
		return nil, ragerr.New(ragerr.ErrEmbedding, "chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, ragerr.New(ragerr.ErrEmbedding, "empty embedding vector")
	}

	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, ragerr.New(ragerr.ErrEmbedding, "vector dimension mismatch at chunk %d: %d != %d", i, len(v), dim)
		}
		norms[i] = norm(v)
	}

	owned := make([]models.DocumentChunk, len(chunks))
	copy(owned, chunks)

	return &Index{
		docID:   docID,
		dim:     dim,
		chunks:  owned,
		vectors: vectors,
		norms:   norms,
	}, nil
}

func (i *Index) DocID() string  { return i.docID }
func (i *Index) Dimension() int { return i.dim }
func (i *Index) Len() int       { return len(i.chunks) }

// Pages returns the distinct page numbers present in the index.
func (i *Index) Pages() map[int]struct{} {
	pages := make(map[int]struct{})
	for _, ch := range i.chunks {
		pages[ch.PageNumber] = struct{}{}
	}
	return pages
}

// Search returns the k chunks most cosine-similar to query, best first.
// Equal scores keep original chunk order.
func (i *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != i.dim {
		return nil, ragerr.New(ragerr.ErrEmbedding, "query dimension %d does not match index dimension %d", len(query), i.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	qNorm := norm(query)
	results := make([]SearchResult, len(i.chunks))
	for j := range i.chunks {
		results[j] = SearchResult{
			Chunk: i.chunks[j],
			Score: cosine(query, i.vectors[j], qNorm, i.norms[j]),
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
