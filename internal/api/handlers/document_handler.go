package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/cache"
	"github.com/docchat/backend/internal/ingestion"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingestion.UploadRequest) (*models.Document, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, limit int) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) (*models.Document, error)
}

type FileRemover interface {
	Delete(ctx context.Context, URL string) error
}

type IndexEvicter interface {
	Evict(docID string)
}

type DocumentHandler struct {
	ingester    Ingester
	store       DocumentStore
	files       FileRemover
	indexes     IndexEvicter
	invalidator cache.Invalidator
	maxBytes    int
}

// NewDocumentHandler wires the document endpoints. invalidator may be nil
// when the cache backend cannot drop entries by document.
func NewDocumentHandler(ingester Ingester, store DocumentStore, files FileRemover, indexes IndexEvicter, invalidator cache.Invalidator, maxBytes int) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = ingestion.DefaultMaxUploadBytes
	}
	return &DocumentHandler{
		ingester:    ingester,
		store:       store,
		files:       files,
		indexes:     indexes,
		invalidator: invalidator,
		maxBytes:    maxBytes,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	data, err := readUpload(header, h.maxBytes)
	if err != nil {
		return respondError(c, err, "Failed to read upload")
	}

	doc, err := h.ingester.Ingest(c.UserContext(), ingestion.UploadRequest{
		UserID:   c.FormValue("user_id"),
		Filename: header.Filename,
		MIMEType: header.Header.Get(fiber.HeaderContentType),
		Data:     data,
	})
	if err != nil {
		return respondError(c, err, "Failed to process document")
	}

	return c.Status(fiber.StatusCreated).JSON(doc)
}

// readUpload reads at most maxBytes+1 bytes so oversize files are detected
// without buffering them whole.
func readUpload(header *multipart.FileHeader, maxBytes int) ([]byte, error) {
	if header.Size > int64(maxBytes) {
		return nil, ragerr.New(ragerr.ErrInvalidInput, "file exceeds %d bytes", maxBytes)
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxBytes {
		return nil, ragerr.New(ragerr.ErrInvalidInput, "file exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 1000",
			})
		}
		limit = n
	}

	docs, err := h.store.ListDocuments(c.UserContext(), c.Query("user_id"), limit)
	if err != nil {
		return respondError(c, err, "Failed to list documents")
	}

	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to get document")
	}
	return c.JSON(doc)
}

// DeleteDocument removes the record, its raw file, the loaded index and any
// cached answers for it.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	ctx := c.UserContext()
	docID := c.Params("id")

	doc, err := h.store.DeleteDocument(ctx, docID)
	if err != nil {
		return respondError(c, err, "Failed to delete document")
	}

	h.indexes.Evict(docID)

	if err := h.files.Delete(ctx, doc.FileURL); err != nil {
		logger.Warn("Raw file left behind", zap.String("doc_id", docID), zap.Error(err))
	}
	if h.invalidator != nil {
		if err := h.invalidator.InvalidateDocument(ctx, docID); err != nil {
			logger.Warn("Failed to invalidate cached answers", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}
