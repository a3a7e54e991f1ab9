package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/extract"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/internal/vector"
	"github.com/docchat/backend/pkg/logger"
)

const DefaultMaxUploadBytes = 10 << 20

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error
}

type FileStore interface {
	Save(ctx context.Context, docID, filename string, data []byte) (string, error)
	Delete(ctx context.Context, URL string) error
}

type IndexRegistry interface {
	Put(docID string, idx *vector.Index)
}

type Config struct {
	MaxBytes         int
	AllowedMIMETypes []string
}

type UploadRequest struct {
	UserID   string
	Filename string
	MIMEType string
	Data     []byte
}

type Processor struct {
	pipeline *Pipeline
	embedder Embedder
	docs     DocumentStore
	files    FileStore
	indexes  IndexRegistry
	maxBytes int
	allowed  map[string]struct{}
}

func NewProcessor(pipeline *Pipeline, embedder Embedder, docs DocumentStore, files FileStore, indexes IndexRegistry, cfg Config) *Processor {
	if pipeline == nil {
		pipeline = NewPipeline(nil)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = []string{extract.MIMEType}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMETypes))
	for _, m := range cfg.AllowedMIMETypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}

	return &Processor{
		pipeline: pipeline,
		embedder: embedder,
		docs:     docs,
		files:    files,
		indexes:  indexes,
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
	}
}

// Ingest validates and stores an upload, builds its index and registers it.
// Either the document is fully persisted and indexed or nothing is left
// behind; the raw file is removed on any failure after it was saved.
func (p *Processor) Ingest(ctx context.Context, req UploadRequest) (doc *models.Document, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = ragerr.KindOf(err)
		}
		metrics.DocumentsIngested.WithLabelValues(status).Inc()
	}()

	if err := p.validate(req); err != nil {
		return nil, err
	}

	docID := uuid.New().String()
	logger.Info("Ingesting document",
		zap.String("doc_id", docID),
		zap.String("filename", req.Filename),
		zap.Int("bytes", len(req.Data)),
	)

	fileURL, err := p.files.Save(ctx, docID, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if delErr := p.files.Delete(context.WithoutCancel(ctx), fileURL); delErr != nil {
			logger.Warn("Failed to clean up raw file", zap.String("doc_id", docID), zap.Error(delErr))
		}
	}()

	chunks, pageCount, err := p.pipeline.Prepare(ctx, docID, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrEmbedding, err, "failed to embed document chunks")
	}

	idx, err := vector.NewIndex(docID, chunks, vectors)
	if err != nil {
		return nil, err
	}

	doc = &models.Document{
		ID:         docID,
		UserID:     req.UserID,
		Filename:   req.Filename,
		MIMEType:   extract.MIMEType,
		SizeBytes:  int64(len(req.Data)),
		FileURL:    fileURL,
		PageCount:  pageCount,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.docs.InsertDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}

	p.indexes.Put(docID, idx)
	metrics.IndexBuilds.WithLabelValues("ingest").Inc()

	logger.Info("Document ingested",
		zap.String("doc_id", docID),
		zap.Int("pages", pageCount),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)
	return doc, nil
}

func (p *Processor) validate(req UploadRequest) error {
	mimeType := strings.ToLower(strings.TrimSpace(req.MIMEType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if _, ok := p.allowed[mimeType]; !ok {
		return ragerr.New(ragerr.ErrInvalidInput, "unsupported content type %q", req.MIMEType)
	}
	if len(req.Data) == 0 {
		return ragerr.New(ragerr.ErrInvalidInput, "uploaded file is empty")
	}
	if len(req.Data) > p.maxBytes {
		return ragerr.New(ragerr.ErrInvalidInput, "file exceeds %d bytes", p.maxBytes)
	}
	if !extract.LooksLikePDF(req.Data) {
		return ragerr.New(ragerr.ErrInvalidInput, "file is not a PDF document")
	}
	return nil
}
