// Package extract turns uploaded PDF bytes into page-ordered plain text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/pkg/logger"
)

const MIMEType = "application/pdf"

var magic = []byte("%PDF-")

type Result struct {
	Text      string
	PageCount int
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// LooksLikePDF reports whether data starts with the PDF header.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}

// Extract reads the whole document's text. Pages are concatenated in order,
// separated by a blank line; the text carries no per-character page tags.
func (e *Extractor) Extract(data []byte) (res *Result, err error) {
	if !LooksLikePDF(data) {
		return nil, ragerr.New(ragerr.ErrExtraction, "not a PDF document")
	}

	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = ragerr.New(ragerr.ErrExtraction, "malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrExtraction, err, "failed to open PDF")
	}

	pageCount := reader.NumPage()
	text, err := pageText(reader, pageCount)
	if err != nil {
		logger.Debug("Per-page extraction failed, falling back to plain text", zap.Error(err))
		text, err = plainText(reader)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.ErrExtraction, err, "failed to read PDF text")
		}
	}

	if strings.TrimSpace(text) == "" {
		return nil, ragerr.New(ragerr.ErrExtraction, "document has no extractable text")
	}
	if pageCount < 1 {
		pageCount = 1
	}

	logger.Debug("PDF text extracted",
		zap.Int("pages", pageCount),
		zap.Int("characters", len(text)),
	)

	return &Result{Text: text, PageCount: pageCount}, nil
}

func pageText(reader *pdf.Reader, pageCount int) (string, error) {
	var builder strings.Builder
	fonts := make(map[string]*pdf.Font)

	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		content, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(strings.TrimSpace(content))
	}

	return builder.String(), nil
}

func plainText(reader *pdf.Reader) (string, error) {
	r, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
