package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
)

func chunk(i, page int, text string) models.DocumentChunk {
	return models.DocumentChunk{ChunkIndex: i, PageNumber: page, Text: text, SourceID: "doc.pdf"}
}

func TestNewIndex(t *testing.T) {
	t.Run("no chunks", func(t *testing.T) {
		_, err := NewIndex("doc", nil, nil)
		assert.ErrorIs(t, err, ragerr.ErrRetrieval)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := NewIndex("doc", []models.DocumentChunk{chunk(0, 1, "a")}, nil)
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := NewIndex("doc",
			[]models.DocumentChunk{chunk(0, 1, "a"), chunk(1, 1, "b")},
			[][]float32{{1, 0}, {1, 0, 0}},
		)
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("ok", func(t *testing.T) {
		idx, err := NewIndex("doc",
			[]models.DocumentChunk{chunk(0, 1, "a"), chunk(1, 2, "b")},
			[][]float32{{1, 0}, {0, 1}},
		)
		require.NoError(t, err)
		assert.Equal(t, 2, idx.Len())
		assert.Equal(t, 2, idx.Dimension())
		assert.Equal(t, "doc", idx.DocID())
		assert.Equal(t, map[int]struct{}{1: {}, 2: {}}, idx.Pages())
	})
}

func TestIndex_Search(t *testing.T) {
	idx, err := NewIndex("doc",
		[]models.DocumentChunk{
			chunk(0, 1, "intro"),
			chunk(1, 1, "methods"),
			chunk(2, 2, "results"),
			chunk(3, 2, "results again"),
		},
		[][]float32{
			{1, 0, 0},
			{0.7, 0.7, 0},
			{0, 1, 0},
			{0, 2, 0},
		},
	)
	require.NoError(t, err)

	t.Run("ranked by cosine", func(t *testing.T) {
		results, err := idx.Search([]float32{0, 1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)

		// chunks 2 and 3 tie at 1.0; original order breaks the tie
		assert.Equal(t, "results", results[0].Chunk.Text)
		assert.Equal(t, "results again", results[1].Chunk.Text)
		assert.Equal(t, "methods", results[2].Chunk.Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("k larger than index", func(t *testing.T) {
		results, err := idx.Search([]float32{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 4)
		assert.Equal(t, "intro", results[0].Chunk.Text)
	})

	t.Run("zero query vector keeps order", func(t *testing.T) {
		results, err := idx.Search([]float32{0, 0, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, "intro", results[0].Chunk.Text)
		assert.Equal(t, "methods", results[1].Chunk.Text)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := idx.Search([]float32{1, 0}, 3)
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})
}
