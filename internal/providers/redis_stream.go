package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// RedisStream appends tracker calls to Redis streams keyed analytics:stream:<type>
type RedisStream struct {
	client redis.Cmdable
	prefix string
	maxLen int64
}

// NewRedisStream creates the adapter. Streams are trimmed to roughly maxLen entries; zero keeps all.
func NewRedisStream(client redis.Cmdable, maxLen int64) *RedisStream {
	return &RedisStream{client: client, prefix: "analytics:stream:", maxLen: maxLen}
}

// Name implements Provider
func (r *RedisStream) Name() string { return "redis_stream" }

// StreamKey returns the stream an event type is appended to
func (r *RedisStream) StreamKey(eventType string) string {
	return r.prefix + eventType
}

func (r *RedisStream) add(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.StreamKey(eventType),
		Values: map[string]interface{}{"data": string(data)},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Track implements Provider
func (r *RedisStream) Track(ctx context.Context, event *analytics.Event) error {
	return r.add(ctx, event.Name, event)
}

// Identify implements Provider
func (r *RedisStream) Identify(ctx context.Context, userID string, traits map[string]interface{}) error {
	return r.add(ctx, MethodIdentify, map[string]interface{}{
		"userId": userID,
		"traits": traits,
	})
}

// Page implements Provider
func (r *RedisStream) Page(ctx context.Context, view *analytics.PageView) error {
	return r.add(ctx, analytics.EventPageView, view)
}
