package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/backend/internal/extract"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/internal/vector"
)

type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract([]byte) (*extract.Result, error) {
	return f.result, f.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 1}
	}
	return out, nil
}

type fakeDocs struct {
	err    error
	docs   map[string]*models.Document
	chunks map[string][]models.DocumentChunk
}

func (f *fakeDocs) InsertDocument(_ context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	if f.err != nil {
		return f.err
	}
	if f.docs == nil {
		f.docs = map[string]*models.Document{}
		f.chunks = map[string][]models.DocumentChunk{}
	}
	f.docs[doc.ID] = doc
	f.chunks[doc.ID] = chunks
	return nil
}

type fakeFiles struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
}

func (f *fakeFiles) Save(_ context.Context, docID, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	URL := "mem://localhost/uploads/" + docID + ".pdf"
	f.saved[URL] = data
	return URL, nil
}

func (f *fakeFiles) Delete(_ context.Context, URL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, URL)
	f.deleted = append(f.deleted, URL)
	return nil
}

type fakeRegistry struct {
	indexes map[string]*vector.Index
}

func (f *fakeRegistry) Put(docID string, idx *vector.Index) {
	if f.indexes == nil {
		f.indexes = map[string]*vector.Index{}
	}
	f.indexes[docID] = idx
}

const sampleText = "Cells are the unit of life.\n\nMitochondria make ATP.\n\nRibosomes build proteins.\n\nThe nucleus stores DNA."

type harness struct {
	processor *Processor
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	docs      *fakeDocs
	files     *fakeFiles
	registry  *fakeRegistry
}

func newHarness() *harness {
	h := &harness{
		extractor: &fakeExtractor{result: &extract.Result{Text: sampleText, PageCount: 2}},
		embedder:  &fakeEmbedder{},
		docs:      &fakeDocs{},
		files:     &fakeFiles{},
		registry:  &fakeRegistry{},
	}
	pipeline := NewPipeline(NewChunker(WithChunkSize(30), WithChunkOverlap(0)))
	pipeline.extractor = h.extractor
	h.processor = NewProcessor(pipeline, h.embedder, h.docs, h.files, h.registry, Config{MaxBytes: 1024})
	return h
}

func pdfUpload(body string) UploadRequest {
	return UploadRequest{
		UserID:   "user-1",
		Filename: "biology.pdf",
		MIMEType: "application/pdf",
		Data:     []byte("%PDF-1.4\n" + body),
	}
}

func TestIngest_Success(t *testing.T) {
	h := newHarness()

	doc, err := h.processor.Ingest(context.Background(), pdfUpload("body"))
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "user-1", doc.UserID)
	assert.Equal(t, "biology.pdf", doc.Filename)
	assert.Equal(t, extract.MIMEType, doc.MIMEType)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, 4, doc.ChunkCount)
	assert.Contains(t, h.files.saved, doc.FileURL)

	chunks := h.docs.chunks[doc.ID]
	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, doc.ID, ch.DocID)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, doc.ID+"_chunk_"+string(rune('0'+i)), ch.ID)
		assert.Equal(t, "biology.pdf", ch.SourceID)
	}
	assert.Equal(t, []int{1, 1, 2, 2}, []int{chunks[0].PageNumber, chunks[1].PageNumber, chunks[2].PageNumber, chunks[3].PageNumber})

	idx, ok := h.registry.indexes[doc.ID]
	require.True(t, ok)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, 1, h.embedder.calls)
	assert.Empty(t, h.files.deleted)
}

func TestIngest_MIMEWithParameters(t *testing.T) {
	h := newHarness()
	req := pdfUpload("body")
	req.MIMEType = "Application/PDF; charset=binary"

	_, err := h.processor.Ingest(context.Background(), req)
	assert.NoError(t, err)
}

func TestIngest_RejectsInvalidUploads(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UploadRequest)
	}{
		{"wrong content type", func(r *UploadRequest) { r.MIMEType = "text/plain" }},
		{"empty file", func(r *UploadRequest) { r.Data = nil }},
		{"too large", func(r *UploadRequest) { r.Data = append([]byte("%PDF-"), make([]byte, 2048)...) }},
		{"not a pdf", func(r *UploadRequest) { r.Data = []byte("PK\x03\x04") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			req := pdfUpload("body")
			tc.mutate(&req)

			doc, err := h.processor.Ingest(context.Background(), req)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, ragerr.ErrInvalidInput)
			assert.Empty(t, h.files.saved)
			assert.Zero(t, h.embedder.calls)
		})
	}
}

func TestIngest_FailureCleansUp(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*harness)
		kind  error
	}{
		{
			name:  "extraction",
			setup: func(h *harness) { h.extractor.err = ragerr.New(ragerr.ErrExtraction, "scanned image") },
			kind:  ragerr.ErrExtraction,
		},
		{
			name:  "no text",
			setup: func(h *harness) { h.extractor.result = &extract.Result{Text: "   ", PageCount: 1} },
			kind:  ragerr.ErrExtraction,
		},
		{
			name:  "embedding",
			setup: func(h *harness) { h.embedder.err = errors.New("upstream unavailable") },
			kind:  ragerr.ErrEmbedding,
		},
		{
			name:  "persistence",
			setup: func(h *harness) { h.docs.err = errors.New("disk full") },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.setup(h)

			doc, err := h.processor.Ingest(context.Background(), pdfUpload("body"))
			require.Error(t, err)
			assert.Nil(t, doc)
			if tc.kind != nil {
				assert.ErrorIs(t, err, tc.kind)
			}

			assert.Empty(t, h.files.saved)
			assert.Len(t, h.files.deleted, 1)
			assert.Empty(t, h.docs.docs)
			assert.Empty(t, h.registry.indexes)
		})
	}
}

func TestPrepare_Deterministic(t *testing.T) {
	h := newHarness()
	h.extractor.result = &extract.Result{Text: strings.Repeat(sampleText+"\n\n", 5), PageCount: 3}

	first, pages, err := h.processor.pipeline.Prepare(context.Background(), "doc-1", "bio.pdf", []byte("%PDF-"))
	require.NoError(t, err)
	second, pagesAgain, err := h.processor.pipeline.Prepare(context.Background(), "doc-1", "bio.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, pages)
	assert.Equal(t, pages, pagesAgain)
	assert.Equal(t, "doc-1_chunk_0", first[0].ID)
	assert.LessOrEqual(t, first[len(first)-1].PageNumber, 3)
}
