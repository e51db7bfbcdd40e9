package providers

import (
	"context"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const mixpanelEndpoint = "https://api.mixpanel.com"

// MixpanelConfig configures the Mixpanel adapter
type MixpanelConfig struct {
	Token    string
	Endpoint string
}

// Mixpanel sends events to the Mixpanel ingestion API
type Mixpanel struct {
	cfg    MixpanelConfig
	client HTTPDoer
}

type mixpanelEvent struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties"`
}

type mixpanelProfile struct {
	Token      string                 `json:"$token"`
	DistinctID string                 `json:"$distinct_id"`
	Set        map[string]interface{} `json:"$set"`
}

// NewMixpanel creates the adapter; a nil client uses a default http.Client
func NewMixpanel(cfg MixpanelConfig, client HTTPDoer) *Mixpanel {
	if cfg.Endpoint == "" {
		cfg.Endpoint = mixpanelEndpoint
	}
	if client == nil {
		client = defaultClient()
	}
	return &Mixpanel{cfg: cfg, client: client}
}

// Name implements Provider
func (m *Mixpanel) Name() string { return "mixpanel" }

// Track implements Provider
func (m *Mixpanel) Track(ctx context.Context, event *analytics.Event) error {
	props := mergeProps(event.Metadata, map[string]interface{}{
		"token":       m.cfg.Token,
		"distinct_id": distinctID(event.UserID, event.SessionID),
		"time":        event.Timestamp.UnixMilli(),
		"$insert_id":  event.ID,
		"category":    event.Category,
		"action":      event.Action,
		"label":       event.Label,
		"session_id":  event.SessionID,
	})
	if event.Value != nil {
		props["value"] = *event.Value
	}

	return postJSON(ctx, m.client, m.cfg.Endpoint+"/track",
		[]mixpanelEvent{{Event: event.Name, Properties: props}}, nil)
}

// Identify implements Provider
func (m *Mixpanel) Identify(ctx context.Context, userID string, traits map[string]interface{}) error {
	return postJSON(ctx, m.client, m.cfg.Endpoint+"/engage#profile-set",
		[]mixpanelProfile{{Token: m.cfg.Token, DistinctID: userID, Set: mergeProps(traits, nil)}}, nil)
}

// Page implements Provider
func (m *Mixpanel) Page(ctx context.Context, view *analytics.PageView) error {
	props := map[string]interface{}{
		"token":       m.cfg.Token,
		"distinct_id": distinctID(view.UserID, view.SessionID),
		"time":        view.Timestamp.UnixMilli(),
		"path":        view.Path,
		"title":       view.Title,
		"referrer":    view.Referrer,
	}
	return postJSON(ctx, m.client, m.cfg.Endpoint+"/track",
		[]mixpanelEvent{{Event: "Page View", Properties: props}}, nil)
}
