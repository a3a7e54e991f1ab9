// Package memory is the in-process query cache: a size-bounded LRU whose
// entries expire a fixed time after insertion.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/cache"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/pkg/logger"
)

const DefaultSize = 1024

type Cache struct {
	lru *expirable.LRU[string, *cache.Entry]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	logger.Info("Memory query cache initialized", zap.Int("size", size), zap.Duration("ttl", ttl))

	return &Cache{lru: expirable.NewLRU[string, *cache.Entry](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, key string) (*cache.Entry, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("memory").Inc()
	logger.Debug("Query cache hit", zap.String("key", key))
	return entry, true
}

func (c *Cache) Set(_ context.Context, key string, entry *cache.Entry) {
	c.lru.Add(key, entry)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// InvalidateDocument drops every cached answer for docID.
func (c *Cache) InvalidateDocument(_ context.Context, docID string) error {
	prefix := docID + ":"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}
