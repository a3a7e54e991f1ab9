// Package cache defines the advisory answer cache shared by the memory and
// redis backends.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/pkg/utils"
)

const DefaultTTL = time.Hour

// Entry is stored and returned whole; callers never mutate it in place.
type Entry struct {
	Answer      string          `json:"answer"`
	SourcePages []int           `json:"source_pages"`
	Sources     []models.Source `json:"sources"`
}

// Cache lookups treat backend failures as misses.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, entry *Entry)
}

// Invalidator is implemented by backends that can drop a document's entries.
type Invalidator interface {
	InvalidateDocument(ctx context.Context, docID string) error
}

// Key folds the question into a digest so keys stay short; the history
// length is part of the key so entries age out as a conversation grows.
func Key(docID, question string, historyLength int) string {
	return fmt.Sprintf("%s:%s:%d", docID, utils.HashString(question), historyLength)
}

// Nop never hits. It lets the orchestrator run without a cache.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (Nop) Set(context.Context, string, *Entry)        {}
