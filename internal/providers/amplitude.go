package providers

import (
	"context"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const amplitudeEndpoint = "https://api2.amplitude.com/2/httpapi"

// AmplitudeConfig configures the Amplitude HTTP V2 adapter
type AmplitudeConfig struct {
	APIKey   string
	Endpoint string
}

// Amplitude sends events to the Amplitude HTTP V2 API
type Amplitude struct {
	cfg    AmplitudeConfig
	client HTTPDoer
}

type amplitudeEvent struct {
	EventType       string                 `json:"event_type"`
	UserID          string                 `json:"user_id,omitempty"`
	DeviceID        string                 `json:"device_id,omitempty"`
	Time            int64                  `json:"time,omitempty"`
	InsertID        string                 `json:"insert_id,omitempty"`
	EventProperties map[string]interface{} `json:"event_properties,omitempty"`
	UserProperties  map[string]interface{} `json:"user_properties,omitempty"`
}

type amplitudePayload struct {
	APIKey string           `json:"api_key"`
	Events []amplitudeEvent `json:"events"`
}

// NewAmplitude creates the adapter; a nil client uses a default http.Client
func NewAmplitude(cfg AmplitudeConfig, client HTTPDoer) *Amplitude {
	if cfg.Endpoint == "" {
		cfg.Endpoint = amplitudeEndpoint
	}
	if client == nil {
		client = defaultClient()
	}
	return &Amplitude{cfg: cfg, client: client}
}

// Name implements Provider
func (a *Amplitude) Name() string { return "amplitude" }

func (a *Amplitude) send(ctx context.Context, event amplitudeEvent) error {
	return postJSON(ctx, a.client, a.cfg.Endpoint, amplitudePayload{
		APIKey: a.cfg.APIKey,
		Events: []amplitudeEvent{event},
	}, nil)
}

// Track implements Provider
func (a *Amplitude) Track(ctx context.Context, event *analytics.Event) error {
	props := mergeProps(event.Metadata, map[string]interface{}{
		"category": event.Category,
		"action":   event.Action,
		"label":    event.Label,
	})
	if event.Value != nil {
		props["value"] = *event.Value
	}

	return a.send(ctx, amplitudeEvent{
		EventType:       event.Name,
		UserID:          event.UserID,
		DeviceID:        event.SessionID,
		Time:            event.Timestamp.UnixMilli(),
		InsertID:        event.ID,
		EventProperties: props,
	})
}

// Identify implements Provider
func (a *Amplitude) Identify(ctx context.Context, userID string, traits map[string]interface{}) error {
	return a.send(ctx, amplitudeEvent{
		EventType:      "$identify",
		UserID:         userID,
		UserProperties: map[string]interface{}{"$set": mergeProps(traits, nil)},
	})
}

// Page implements Provider
func (a *Amplitude) Page(ctx context.Context, view *analytics.PageView) error {
	return a.send(ctx, amplitudeEvent{
		EventType: "Page View",
		UserID:    view.UserID,
		DeviceID:  view.SessionID,
		Time:      view.Timestamp.UnixMilli(),
		EventProperties: mergeProps(nil, map[string]interface{}{
			"path":     view.Path,
			"title":    view.Title,
			"referrer": view.Referrer,
		}),
	})
}
