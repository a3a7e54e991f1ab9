// Package query answers questions about one document: it retrieves the most
// similar chunks, grounds the answer model on them and reports which pages
// were used.
package query

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docchat/backend/internal/cache"
	"github.com/docchat/backend/internal/llm"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/internal/vector"
	"github.com/docchat/backend/pkg/logger"
	"github.com/docchat/backend/pkg/utils"
)

const (
	DefaultTopK          = 3
	DefaultExcerptLength = 150
)

type IndexResolver interface {
	GetOrBuild(ctx context.Context, docID string) (*vector.Index, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Options struct {
	TopK          int
	ExcerptLength int
}

type Engine struct {
	indexes       IndexResolver
	embedder      Embedder
	generator     Generator
	cache         cache.Cache
	topK          int
	excerptLength int
}

type Answer struct {
	Answer      string          `json:"answer"`
	SourcePages []int           `json:"source_pages"`
	Sources     []models.Source `json:"sources"`
}

func NewEngine(indexes IndexResolver, embedder Embedder, generator Generator, answerCache cache.Cache, opts Options) *Engine {
	if answerCache == nil {
		answerCache = cache.Nop{}
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = DefaultExcerptLength
	}
	return &Engine{
		indexes:       indexes,
		embedder:      embedder,
		generator:     generator,
		cache:         answerCache,
		topK:          opts.TopK,
		excerptLength: opts.ExcerptLength,
	}
}

// Answer returns a grounded answer for question. Identical (docID, question,
// historyLength) triples are served from the cache within its TTL. Work
// continues after the caller goes away so the result still lands in the
// cache. Nothing is cached on failure.
func (e *Engine) Answer(ctx context.Context, docID, question string, historyLength int) (*Answer, error) {
	start := time.Now()
	key := cache.Key(docID, question, historyLength)

	if entry, ok := e.cache.Get(ctx, key); ok {
		metrics.AnswerDuration.WithLabelValues("true").Observe(time.Since(start).Seconds())
		return fromEntry(entry), nil
	}

	ctx = context.WithoutCancel(ctx)

	idx, err := e.indexes.GetOrBuild(ctx, docID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrRetrieval, err, "failed to resolve document index")
	}

	queryVector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrRetrieval, err, "failed to embed question")
	}

	results, err := idx.Search(queryVector, e.topK)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrRetrieval, err, "similarity search failed")
	}
	if len(results) == 0 {
		return nil, ragerr.New(ragerr.ErrRetrieval, "no chunks retrieved for document %s", docID)
	}
	metrics.RetrievedChunks.Observe(float64(len(results)))

	resp, err := e.generator.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   buildUserPrompt(buildContext(results), question),
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrGeneration, err, "failed to generate answer")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, ragerr.New(ragerr.ErrGeneration, "answer model returned an empty answer")
	}

	answer := &Answer{
		Answer:      resp.Content,
		SourcePages: sourcePages(results),
		Sources:     e.sources(results),
	}

	e.cache.Set(ctx, key, toEntry(answer))

	metrics.AnswerDuration.WithLabelValues("false").Observe(time.Since(start).Seconds())
	logger.Info("Question answered",
		zap.String("doc_id", docID),
		zap.Int("history_length", historyLength),
		zap.String("source_pages", joinPages(answer.SourcePages)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	return answer, nil
}

// sourcePages is the ascending, de-duplicated set of retrieved pages.
func sourcePages(results []vector.SearchResult) []int {
	seen := make(map[int]struct{}, len(results))
	pages := make([]int, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Chunk.PageNumber]; ok {
			continue
		}
		seen[r.Chunk.PageNumber] = struct{}{}
		pages = append(pages, r.Chunk.PageNumber)
	}
	sort.Ints(pages)
	return pages
}

// sources keeps retrieval rank order, one entry per chunk.
func (e *Engine) sources(results []vector.SearchResult) []models.Source {
	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			Page:    r.Chunk.PageNumber,
			Excerpt: utils.Truncate(r.Chunk.Text, e.excerptLength),
		}
	}
	return sources
}

func toEntry(a *Answer) *cache.Entry {
	return &cache.Entry{Answer: a.Answer, SourcePages: a.SourcePages, Sources: a.Sources}
}

func fromEntry(entry *cache.Entry) *Answer {
	return &Answer{Answer: entry.Answer, SourcePages: entry.SourcePages, Sources: entry.Sources}
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
