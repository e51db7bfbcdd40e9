// Package providers forwards tracked events to third-party analytics services.
// Providers are registered explicitly; nothing is discovered at runtime.
package providers

import (
	"context"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Provider is an adapter to one analytics service
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	Track(ctx context.Context, event *analytics.Event) error
	Identify(ctx context.Context, userID string, traits map[string]interface{}) error
	Page(ctx context.Context, view *analytics.PageView) error
}

// Method names used in logs and metrics
const (
	MethodTrack    = "track"
	MethodIdentify = "identify"
	MethodPage     = "page"
)
