package ingestion

import (
	"context"
	"fmt"

	"github.com/docchat/backend/internal/extract"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
)

type TextExtractor interface {
	Extract(data []byte) (*extract.Result, error)
}

// Pipeline turns raw document bytes into chunks. It is shared by the upload
// path and by index rebuilds from a stored file.
type Pipeline struct {
	extractor TextExtractor
	chunker   *Chunker
}

func NewPipeline(chunker *Chunker) *Pipeline {
	if chunker == nil {
		chunker = NewChunker()
	}
	return &Pipeline{extractor: extract.NewExtractor(), chunker: chunker}
}

// Prepare extracts and chunks data without embedding it. Chunk ids are
// derived from the document id so a rebuild yields the same ids.
func (p *Pipeline) Prepare(_ context.Context, docID, sourceID string, data []byte) ([]models.DocumentChunk, int, error) {
	res, err := p.extractor.Extract(data)
	if err != nil {
		return nil, 0, err
	}

	chunks := p.chunker.Chunk(res.Text, sourceID, res.PageCount)
	if len(chunks) == 0 {
		return nil, 0, ragerr.New(ragerr.ErrExtraction, "document %s produced no chunks", docID)
	}
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s_chunk_%d", docID, chunks[i].ChunkIndex)
		chunks[i].DocID = docID
	}
	return chunks, res.PageCount, nil
}
