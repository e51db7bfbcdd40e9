package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/marketpulse/internal/domain/ratelimit"
)

const rateLimitKeyPrefix = "ingest_rate:"

// slidingWindow trims expired entries, then admits the request if the window has room.
// Returns {allowed, count, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return {1, current + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_ms = now
if #oldest > 0 then
	oldest_ms = tonumber(oldest[2])
end
return {0, current, oldest_ms}
`)

// RateLimiter implements ratelimit.Limiter with a Redis sorted set per key
type RateLimiter struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRateLimiter creates a new Redis rate limiter
func NewRateLimiter(client redis.Cmdable) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow implements ratelimit.Limiter
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	now := r.now()
	nowMs := now.UnixMilli()

	res, err := slidingWindow.Run(ctx, r.client, []string{rateLimitKeyPrefix + key},
		now.Add(-window).UnixMilli(),
		nowMs,
		limit,
		window.Milliseconds()+1000,
		fmt.Sprintf("%d:%s", nowMs, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected result format from rate limiter")
	}

	result := &ratelimit.Result{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: limit - int(res[1]),
		ResetAt:   now.Add(window),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if !result.Allowed {
		result.ResetAt = time.UnixMilli(res[2]).Add(window)
		result.RetryAfter = result.ResetAt.Sub(now)
		if result.RetryAfter < 0 {
			result.RetryAfter = 0
		}
	}
	return result, nil
}

// Reset implements ratelimit.Limiter
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, rateLimitKeyPrefix+key).Err()
}
