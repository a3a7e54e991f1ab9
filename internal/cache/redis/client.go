package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/cache"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/pkg/logger"
)

const keyPrefix = "query:"

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	logger.Info("Redis query cache initialized", zap.String("addr", addr), zap.Duration("ttl", ttl))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Get(ctx context.Context, key string) (*cache.Entry, bool) {
	entry, found, err := c.GetQuery(ctx, key)
	if err != nil {
		logger.Warn("Query cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return entry, true
}

func (c *Client) Set(ctx context.Context, key string, entry *cache.Entry) {
	if err := c.SetQuery(ctx, key, entry); err != nil {
		logger.Warn("Query cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) SetQuery(ctx context.Context, key string, entry *cache.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	err = c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}

	logger.Debug("Query cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetQuery(ctx context.Context, key string) (*cache.Entry, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get query cache: %w", err)
	}

	var entry cache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("key", key))
	return &entry, true, nil
}

// InvalidateDocument drops every cached answer for docID.
func (c *Client) InvalidateDocument(ctx context.Context, docID string) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+docID+":*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Document cache invalidated", zap.String("doc_id", docID), zap.Int("keys", deleted))
	return nil
}
