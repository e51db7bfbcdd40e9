package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Publisher is the subset of *nats.Conn the adapter needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string
	// SubjectPrefix is prepended to the method, e.g. "analytics" yields "analytics.track"
	SubjectPrefix string
	Source        string
}

// NATS publishes tracker calls to NATS subjects for downstream consumers
type NATS struct {
	conn   Publisher
	closer func()
	prefix string
	source string
}

// Message is the envelope published to NATS
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// DialNATS connects to the server in cfg.URL
func DialNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("marketpulse-tracker"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	n := NewNATS(nc, cfg)
	n.closer = nc.Close
	return n, nil
}

// NewNATS wraps an existing publisher
func NewNATS(conn Publisher, cfg NATSConfig) *NATS {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "analytics"
	}
	if cfg.Source == "" {
		cfg.Source = "tracker"
	}
	return &NATS{conn: conn, prefix: cfg.SubjectPrefix, source: cfg.Source}
}

// Name implements Provider
func (n *NATS) Name() string { return "nats" }

// Close closes a connection opened by DialNATS
func (n *NATS) Close() {
	if n.closer != nil {
		n.closer()
	}
}

func (n *NATS) publish(method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	data, err := json.Marshal(Message{
		Type:      method,
		Timestamp: time.Now().UTC(),
		Source:    n.source,
		Version:   "1.0",
		Payload:   body,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := n.conn.Publish(n.prefix+"."+method, data); err != nil {
		return fmt.Errorf("publish %s: %w", method, err)
	}
	return nil
}

// Track implements Provider
func (n *NATS) Track(_ context.Context, event *analytics.Event) error {
	return n.publish(MethodTrack, event)
}

// Identify implements Provider
func (n *NATS) Identify(_ context.Context, userID string, traits map[string]interface{}) error {
	return n.publish(MethodIdentify, map[string]interface{}{
		"userId": userID,
		"traits": traits,
	})
}

// Page implements Provider
func (n *NATS) Page(_ context.Context, view *analytics.PageView) error {
	return n.publish(MethodPage, view)
}
