package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const segmentEndpoint = "https://api.segment.io/v1"

// SegmentConfig configures the Segment HTTP tracking API adapter
type SegmentConfig struct {
	WriteKey string
	Endpoint string
}

// Segment sends calls to the Segment HTTP tracking API
type Segment struct {
	cfg    SegmentConfig
	client HTTPDoer
}

type segmentMessage struct {
	MessageID   string                 `json:"messageId"`
	Type        string                 `json:"type"`
	UserID      string                 `json:"userId,omitempty"`
	AnonymousID string                 `json:"anonymousId,omitempty"`
	Event       string                 `json:"event,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Traits      map[string]interface{} `json:"traits,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewSegment creates the adapter; a nil client uses a default http.Client
func NewSegment(cfg SegmentConfig, client HTTPDoer) *Segment {
	if cfg.Endpoint == "" {
		cfg.Endpoint = segmentEndpoint
	}
	if client == nil {
		client = defaultClient()
	}
	return &Segment{cfg: cfg, client: client}
}

// Name implements Provider
func (s *Segment) Name() string { return "segment" }

func (s *Segment) send(ctx context.Context, path string, msg segmentMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	return postJSON(ctx, s.client, s.cfg.Endpoint+path, msg, func(req *http.Request) {
		req.SetBasicAuth(s.cfg.WriteKey, "")
	})
}

// Track implements Provider
func (s *Segment) Track(ctx context.Context, event *analytics.Event) error {
	props := mergeProps(event.Metadata, map[string]interface{}{
		"category": event.Category,
		"action":   event.Action,
		"label":    event.Label,
	})
	if event.Value != nil {
		props["value"] = *event.Value
	}

	return s.send(ctx, "/track", segmentMessage{
		MessageID:   event.ID,
		Type:        "track",
		UserID:      event.UserID,
		AnonymousID: event.SessionID,
		Event:       event.Name,
		Properties:  props,
		Timestamp:   event.Timestamp,
	})
}

// Identify implements Provider
func (s *Segment) Identify(ctx context.Context, userID string, traits map[string]interface{}) error {
	return s.send(ctx, "/identify", segmentMessage{
		Type:      "identify",
		UserID:    userID,
		Traits:    mergeProps(traits, nil),
		Timestamp: time.Now().UTC(),
	})
}

// Page implements Provider
func (s *Segment) Page(ctx context.Context, view *analytics.PageView) error {
	return s.send(ctx, "/page", segmentMessage{
		Type:        "page",
		UserID:      view.UserID,
		AnonymousID: view.SessionID,
		Name:        view.Title,
		Properties: mergeProps(nil, map[string]interface{}{
			"path":     view.Path,
			"title":    view.Title,
			"referrer": view.Referrer,
		}),
		Timestamp: view.Timestamp,
	})
}
