// Package ragerr holds the error kinds shared by ingestion and the chat path.
// Every error that leaves the core wraps exactly one of the sentinels below,
// so callers classify failures with errors.Is.
package ragerr

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction   = errors.New("extraction error")
	ErrEmbedding    = errors.New("embedding error")
	ErrRetrieval    = errors.New("retrieval error")
	ErrGeneration   = errors.New("generation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

var kinds = []error{
	ErrExtraction,
	ErrEmbedding,
	ErrRetrieval,
	ErrGeneration,
	ErrNotFound,
	ErrInvalidInput,
}

// Wrap annotates err with msg and tags it with kind. An error that already
// carries a kind keeps it.
func Wrap(kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// New returns a fresh error of the given kind.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func Classified(err error) bool {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// KindOf names the kind carried by err, or "internal" when it has none.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
