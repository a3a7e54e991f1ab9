// Package files keeps the raw bytes of uploaded documents so an index can be
// rebuilt from the original file when chunk rows are missing.
package files

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/pkg/logger"
)

type Store struct {
	fs      afs.Service
	baseURL string
}

// NewStore roots the store at baseURL, any afs-supported scheme
// (file://, mem://, s3://, gs://).
func NewStore(baseURL string) *Store {
	return &Store{fs: afs.New(), baseURL: strings.TrimRight(baseURL, "/")}
}

// Save writes data under the document id and returns its URL.
func (s *Store) Save(ctx context.Context, docID, filename string, data []byte) (string, error) {
	URL := s.objectURL(docID, filename)
	if err := s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store raw file: %w", err)
	}
	logger.Debug("Raw file stored", zap.String("doc_id", docID), zap.String("url", URL), zap.Int("bytes", len(data)))
	return URL, nil
}

func (s *Store) Load(ctx context.Context, URL string) ([]byte, error) {
	if URL == "" {
		return nil, ragerr.New(ragerr.ErrNotFound, "raw file location is empty")
	}
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check raw file: %w", err)
	}
	if !exists {
		return nil, ragerr.New(ragerr.ErrNotFound, "raw file %s", URL)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw file: %w", err)
	}
	return data, nil
}

// Delete is best effort; a missing object is not an error.
func (s *Store) Delete(ctx context.Context, URL string) error {
	if URL == "" {
		return nil
	}
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil || !exists {
		return err
	}
	if err := s.fs.Delete(ctx, URL); err != nil {
		logger.Warn("Failed to delete raw file", zap.String("url", URL), zap.Error(err))
		return fmt.Errorf("failed to delete raw file: %w", err)
	}
	return nil
}

func (s *Store) objectURL(docID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return url.Join(s.baseURL, docID+ext)
}
