// Package registry maps document ids to their in-memory vector index and
// rebuilds missing indexes from persisted chunks.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/internal/vector"
	"github.com/docchat/backend/pkg/logger"
)

type ChunkStore interface {
	LoadChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error)
	LoadRawFile(ctx context.Context, docID string) ([]byte, string, error)
	ReplaceChunks(ctx context.Context, docID string, chunks []models.DocumentChunk) error
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Preparer re-runs extraction and chunking over a stored raw file.
type Preparer interface {
	Prepare(ctx context.Context, docID, sourceID string, data []byte) ([]models.DocumentChunk, int, error)
}

// Registry holds at most one fully built index per document. Entries live
// until evicted; a build in flight is shared by every caller asking for the
// same document.
type Registry struct {
	store    ChunkStore
	embedder Embedder
	preparer Preparer

	mu       sync.RWMutex
	indexes  map[string]*vector.Index
	// building holds the token of the build each document is waiting on.
	// Evict drops it so a build finishing afterwards is not registered.
	building map[string]uint64
	nextID   uint64
	group    singleflight.Group
}

func New(store ChunkStore, embedder Embedder, preparer Preparer) *Registry {
	return &Registry{
		store:    store,
		embedder: embedder,
		preparer: preparer,
		indexes:  make(map[string]*vector.Index),
		building: make(map[string]uint64),
	}
}

// Get returns the loaded index without building it.
func (r *Registry) Get(docID string) (*vector.Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[docID]
	return idx, ok
}

// Put registers an index built elsewhere, replacing any previous one.
func (r *Registry) Put(docID string, idx *vector.Index) {
	r.mu.Lock()
	r.indexes[docID] = idx
	n := len(r.indexes)
	r.mu.Unlock()
	metrics.IndexesLoaded.Set(float64(n))
}

func (r *Registry) Evict(docID string) {
	r.mu.Lock()
	delete(r.indexes, docID)
	delete(r.building, docID)
	n := len(r.indexes)
	r.mu.Unlock()
	r.group.Forget(docID)
	metrics.IndexesLoaded.Set(float64(n))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indexes)
}

// GetOrBuild returns the document's index, building it on first use.
// Concurrent callers for one document share a single build. The build is
// detached from the caller's cancellation so one disconnecting client does
// not fail the others.
func (r *Registry) GetOrBuild(ctx context.Context, docID string) (*vector.Index, error) {
	if idx, ok := r.Get(docID); ok {
		return idx, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(docID, func() (interface{}, error) {
		if idx, ok := r.Get(docID); ok {
			return idx, nil
		}
		token := r.beginBuild(docID)
		idx, err := r.build(buildCtx, docID)
		if err != nil {
			r.finishBuild(docID, token, nil)
			return nil, err
		}
		if !r.finishBuild(docID, token, idx) {
			logger.Info("Document evicted during build, index discarded", zap.String("doc_id", docID))
		}
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*vector.Index), nil
	}
}

func (r *Registry) beginBuild(docID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.building[docID] = r.nextID
	return r.nextID
}

// finishBuild registers idx only if no Evict happened since beginBuild. A nil
// idx just clears the marker.
func (r *Registry) finishBuild(docID string, token uint64, idx *vector.Index) bool {
	r.mu.Lock()
	current, ok := r.building[docID]
	if !ok || current != token {
		r.mu.Unlock()
		return false
	}
	delete(r.building, docID)
	if idx == nil {
		r.mu.Unlock()
		return false
	}
	r.indexes[docID] = idx
	n := len(r.indexes)
	r.mu.Unlock()
	metrics.IndexesLoaded.Set(float64(n))
	return true
}

func (r *Registry) build(ctx context.Context, docID string) (*vector.Index, error) {
	start := time.Now()

	chunks, err := r.store.LoadChunks(ctx, docID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrRetrieval, err, "failed to load chunks")
	}

	path := "warm"
	if len(chunks) == 0 {
		path = "fallback"
		logger.Warn("Document has no persisted chunks, re-ingesting raw file", zap.String("doc_id", docID))

		chunks, err = r.rebuildChunks(ctx, docID)
		if err != nil {
			return nil, err
		}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrEmbedding, err, "failed to embed chunks")
	}

	idx, err := vector.NewIndex(docID, chunks, vectors)
	if err != nil {
		return nil, err
	}

	metrics.IndexBuilds.WithLabelValues(path).Inc()
	logger.Info("Vector index built",
		zap.String("doc_id", docID),
		zap.String("path", path),
		zap.Int("chunks", idx.Len()),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	return idx, nil
}

func (r *Registry) rebuildChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error) {
	data, sourceID, err := r.store.LoadRawFile(ctx, docID)
	if err != nil {
		return nil, err
	}

	chunks, _, err := r.preparer.Prepare(ctx, docID, sourceID, data)
	if err != nil {
		return nil, err
	}

	if err := r.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		logger.Warn("Failed to persist rebuilt chunks", zap.String("doc_id", docID), zap.Error(err))
	}

	return chunks, nil
}
