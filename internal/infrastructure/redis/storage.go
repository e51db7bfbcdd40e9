// Package redis provides Redis-backed implementations of the ingest rate limiter and tracker storage.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const storageKeyPrefix = "tracker:"

// Storage implements analytics.Storage on plain Redis string keys so tracker
// sessions and profiles can be shared between processes
type Storage struct {
	client redis.Cmdable
	prefix string
}

// NewStorage creates a Redis storage. An empty prefix falls back to "tracker:".
func NewStorage(client redis.Cmdable, prefix string) *Storage {
	if prefix == "" {
		prefix = storageKeyPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// NewClient opens a client and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Get implements analytics.Storage
func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", analytics.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set implements analytics.Storage
func (s *Storage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements analytics.Storage
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
