package providers

import (
	"context"
	"net/url"
	"strings"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const ga4Endpoint = "https://www.google-analytics.com/mp/collect"

// GA4Config configures the Google Analytics 4 Measurement Protocol adapter
type GA4Config struct {
	MeasurementID string
	APISecret     string
	// Endpoint overrides the collect URL
	Endpoint string
}

// GA4 sends events through the GA4 Measurement Protocol
type GA4 struct {
	cfg    GA4Config
	client HTTPDoer
}

type ga4Event struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type ga4Payload struct {
	ClientID       string                 `json:"client_id"`
	UserID         string                 `json:"user_id,omitempty"`
	TimestampMicro int64                  `json:"timestamp_micros,omitempty"`
	UserProperties map[string]interface{} `json:"user_properties,omitempty"`
	Events         []ga4Event             `json:"events"`
}

// NewGA4 creates the adapter; a nil client uses a default http.Client
func NewGA4(cfg GA4Config, client HTTPDoer) *GA4 {
	if cfg.Endpoint == "" {
		cfg.Endpoint = ga4Endpoint
	}
	if client == nil {
		client = defaultClient()
	}
	return &GA4{cfg: cfg, client: client}
}

// Name implements Provider
func (g *GA4) Name() string { return "ga4" }

func (g *GA4) url() string {
	q := url.Values{}
	q.Set("measurement_id", g.cfg.MeasurementID)
	q.Set("api_secret", g.cfg.APISecret)
	return g.cfg.Endpoint + "?" + q.Encode()
}

// ga4Name maps an event name onto GA4's [A-Za-z0-9_] naming, at most 40 characters
func ga4Name(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// Track implements Provider
func (g *GA4) Track(ctx context.Context, event *analytics.Event) error {
	params := mergeProps(event.Metadata, map[string]interface{}{
		"event_category": event.Category,
		"event_label":    event.Label,
		"action":         event.Action,
		"session_id":     event.SessionID,
	})
	if event.Value != nil {
		params["value"] = *event.Value
	}

	return postJSON(ctx, g.client, g.url(), ga4Payload{
		ClientID:       event.SessionID,
		UserID:         event.UserID,
		TimestampMicro: event.Timestamp.UnixMicro(),
		Events:         []ga4Event{{Name: ga4Name(event.Name), Params: params}},
	}, nil)
}

// Identify implements Provider. GA4 has no identify call; user properties ride on a login event.
func (g *GA4) Identify(ctx context.Context, userID string, traits map[string]interface{}) error {
	props := make(map[string]interface{}, len(traits))
	for k, v := range traits {
		props[ga4Name(k)] = map[string]interface{}{"value": v}
	}

	return postJSON(ctx, g.client, g.url(), ga4Payload{
		ClientID:       userID,
		UserID:         userID,
		UserProperties: props,
		Events:         []ga4Event{{Name: "login"}},
	}, nil)
}

// Page implements Provider
func (g *GA4) Page(ctx context.Context, view *analytics.PageView) error {
	return postJSON(ctx, g.client, g.url(), ga4Payload{
		ClientID:       distinctID(view.SessionID, view.UserID),
		UserID:         view.UserID,
		TimestampMicro: view.Timestamp.UnixMicro(),
		Events: []ga4Event{{
			Name: "page_view",
			Params: mergeProps(nil, map[string]interface{}{
				"page_location": view.Path,
				"page_title":    view.Title,
				"page_referrer": view.Referrer,
			}),
		}},
	}, nil)
}
