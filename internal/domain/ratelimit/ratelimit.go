// Package ratelimit defines the ingest rate limiting contract.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per key in a sliding window
type Limiter interface {
	// Allow records a request for key and reports whether it is within limit
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)

	// Reset clears the window for key
	Reset(ctx context.Context, key string) error
}

// Policy is the limit applied to one class of requests
type Policy struct {
	Limit  int
	Window time.Duration
}
