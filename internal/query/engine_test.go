package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/backend/internal/cache/memory"
	"github.com/docchat/backend/internal/llm"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/internal/vector"
)

type fakeResolver struct {
	idx *vector.Index
	err error
}

func (r *fakeResolver) GetOrBuild(context.Context, string) (*vector.Index, error) {
	return r.idx, r.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vector, e.err
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []llm.CompletionRequest
	content  string
	err      error
}

func (g *fakeGenerator) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.CompletionResponse{Content: g.content}, nil
}

// three chunks: two on page 1, one on page 2
func scenarioIndex(t *testing.T) *vector.Index {
	t.Helper()
	idx, err := vector.NewIndex("doc-1",
		[]models.DocumentChunk{
			{ChunkIndex: 0, PageNumber: 1, Text: "Cells are the basic unit of life."},
			{ChunkIndex: 1, PageNumber: 1, Text: "Mitochondria produce energy for the cell."},
			{ChunkIndex: 2, PageNumber: 2, Text: "ATP synthesis happens in the mitochondria."},
		},
		[][]float32{
			{1, 0, 0},
			{0.6, 0.8, 0},
			{0, 1, 0},
		},
	)
	require.NoError(t, err)
	return idx
}

func newEngine(t *testing.T, generator *fakeGenerator, topK int) *Engine {
	t.Helper()
	return NewEngine(
		&fakeResolver{idx: scenarioIndex(t)},
		&fakeEmbedder{vector: []float32{0, 1, 0}},
		generator,
		memory.New(16, time.Hour),
		Options{TopK: topK},
	)
}

func TestAnswer_SourcesFromRetrievedChunks(t *testing.T) {
	generator := &fakeGenerator{content: "Mitochondria make ATP (page 2)."}
	engine := newEngine(t, generator, 2)

	answer, err := engine.Answer(context.Background(), "doc-1", "Where is ATP made?", 0)
	require.NoError(t, err)

	assert.Equal(t, "Mitochondria make ATP (page 2).", answer.Answer)
	assert.Equal(t, []int{1, 2}, answer.SourcePages)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, 2, answer.Sources[0].Page)
	assert.Equal(t, "ATP synthesis happens in the mitochondria.", answer.Sources[0].Excerpt)
	assert.Equal(t, 1, answer.Sources[1].Page)
	assert.Equal(t, "Mitochondria produce energy for the cell.", answer.Sources[1].Excerpt)
}

func TestAnswer_PromptCarriesRankedContext(t *testing.T) {
	generator := &fakeGenerator{content: "ok"}
	engine := newEngine(t, generator, 2)

	_, err := engine.Answer(context.Background(), "doc-1", "Where is ATP made?", 0)
	require.NoError(t, err)

	require.Len(t, generator.requests, 1)
	req := generator.requests[0]
	assert.Contains(t, req.SystemPrompt, "ONLY the supplied document context")
	assert.Contains(t, req.SystemPrompt, "Related Concepts")
	assert.Contains(t, req.UserPrompt,
		"[page 2]\nATP synthesis happens in the mitochondria.\n\n[page 1]\nMitochondria produce energy for the cell.")
	assert.Contains(t, req.UserPrompt, "Question: Where is ATP made?")
	assert.NotContains(t, req.UserPrompt, "Cells are the basic unit of life.")
}

func TestAnswer_Cached(t *testing.T) {
	generator := &fakeGenerator{content: "cached answer"}
	engine := newEngine(t, generator, 3)
	ctx := context.Background()

	first, err := engine.Answer(ctx, "doc-1", "What is a cell?", 2)
	require.NoError(t, err)
	second, err := engine.Answer(ctx, "doc-1", "What is a cell?", 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, generator.calls)

	_, err = engine.Answer(ctx, "doc-1", "What is a cell?", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, generator.calls)
}

func TestAnswer_WithoutCacheStillCorrect(t *testing.T) {
	generator := &fakeGenerator{content: "same answer"}
	engine := NewEngine(
		&fakeResolver{idx: scenarioIndex(t)},
		&fakeEmbedder{vector: []float32{0, 1, 0}},
		generator,
		nil,
		Options{TopK: 2},
	)

	first, err := engine.Answer(context.Background(), "doc-1", "q", 0)
	require.NoError(t, err)
	second, err := engine.Answer(context.Background(), "doc-1", "q", 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, generator.calls)
}

func TestAnswer_SourcePagesSortedSubset(t *testing.T) {
	queries := [][]float32{{1, 0, 0}, {0, 1, 0}, {0.5, 0.5, 0}, {0, 0, 1}, {-1, 1, 0}}
	idx := scenarioIndex(t)
	docPages := idx.Pages()

	for _, q := range queries {
		engine := NewEngine(&fakeResolver{idx: idx}, &fakeEmbedder{vector: q}, &fakeGenerator{content: "a"}, nil, Options{TopK: 3})

		answer, err := engine.Answer(context.Background(), "doc-1", "q", 0)
		require.NoError(t, err)

		for i, page := range answer.SourcePages {
			_, ok := docPages[page]
			assert.True(t, ok)
			if i > 0 {
				assert.Less(t, answer.SourcePages[i-1], page)
			}
		}
	}
}

func TestAnswer_ExcerptBounded(t *testing.T) {
	long := strings.Repeat("x", 400)
	idx, err := vector.NewIndex("doc-1", []models.DocumentChunk{{PageNumber: 1, Text: long}}, [][]float32{{1}})
	require.NoError(t, err)

	engine := NewEngine(&fakeResolver{idx: idx}, &fakeEmbedder{vector: []float32{1}}, &fakeGenerator{content: "a"}, nil, Options{})

	answer, err := engine.Answer(context.Background(), "doc-1", "q", 0)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Len(t, answer.Sources[0].Excerpt, DefaultExcerptLength)
}

func TestAnswer_Failures(t *testing.T) {
	idx := scenarioIndex(t)

	tests := []struct {
		name      string
		resolver  *fakeResolver
		embedder  *fakeEmbedder
		generator *fakeGenerator
		kind      error
	}{
		{
			name:      "document missing",
			resolver:  &fakeResolver{err: ragerr.New(ragerr.ErrNotFound, "document doc-1")},
			embedder:  &fakeEmbedder{vector: []float32{0, 1, 0}},
			generator: &fakeGenerator{content: "a"},
			kind:      ragerr.ErrNotFound,
		},
		{
			name:      "index build failed",
			resolver:  &fakeResolver{err: errors.New("disk on fire")},
			embedder:  &fakeEmbedder{vector: []float32{0, 1, 0}},
			generator: &fakeGenerator{content: "a"},
			kind:      ragerr.ErrRetrieval,
		},
		{
			name:      "question embedding failed",
			resolver:  &fakeResolver{idx: idx},
			embedder:  &fakeEmbedder{err: ragerr.New(ragerr.ErrEmbedding, "upstream down")},
			generator: &fakeGenerator{content: "a"},
			kind:      ragerr.ErrEmbedding,
		},
		{
			name:      "dimension mismatch",
			resolver:  &fakeResolver{idx: idx},
			embedder:  &fakeEmbedder{vector: []float32{1, 0}},
			generator: &fakeGenerator{content: "a"},
			kind:      ragerr.ErrEmbedding,
		},
		{
			name:      "generation failed",
			resolver:  &fakeResolver{idx: idx},
			embedder:  &fakeEmbedder{vector: []float32{0, 1, 0}},
			generator: &fakeGenerator{err: errors.New("rate limited")},
			kind:      ragerr.ErrGeneration,
		},
		{
			name:      "empty answer",
			resolver:  &fakeResolver{idx: idx},
			embedder:  &fakeEmbedder{vector: []float32{0, 1, 0}},
			generator: &fakeGenerator{content: "   "},
			kind:      ragerr.ErrGeneration,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answerCache := memory.New(16, time.Hour)
			engine := NewEngine(tc.resolver, tc.embedder, tc.generator, answerCache, Options{})

			answer, err := engine.Answer(context.Background(), "doc-1", "q", 0)
			assert.Nil(t, answer)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, 0, answerCache.Len())
		})
	}
}

func TestAnswer_CompletesAfterCallerCancels(t *testing.T) {
	generator := &fakeGenerator{content: "finished anyway"}
	engine := newEngine(t, generator, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := engine.Answer(ctx, "doc-1", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, "finished anyway", answer.Answer)

	again, err := engine.Answer(context.Background(), "doc-1", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, answer, again)
	assert.Equal(t, 1, generator.calls)
}
