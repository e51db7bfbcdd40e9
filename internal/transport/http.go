// Package transport delivers tracker batches to the collector over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Config holds collector client settings
type Config struct {
	// Endpoint is the collector base URL, e.g. https://collector.example.com/api/analytics
	Endpoint string
	// Timeout bounds each request
	Timeout time.Duration
	// Headers are added to every request
	Headers map[string]string
}

// HTTP implements analytics.Transport against the collector API
type HTTP struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
}

// NewHTTP creates a collector client
func NewHTTP(cfg Config) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		headers:  cfg.Headers,
	}
}

// SendEvents posts {events} to /events
func (h *HTTP) SendEvents(ctx context.Context, events []*analytics.Event) error {
	return h.post(ctx, "/events", analytics.EventBatch{Events: events})
}

// SendHeatmap posts {data, page} to /heatmap
func (h *HTTP) SendHeatmap(ctx context.Context, page string, points []analytics.HeatmapPoint) error {
	return h.post(ctx, "/heatmap", analytics.HeatmapBatch{Data: points, Page: page})
}

// SendRecording posts the recording to /recording
func (h *HTTP) SendRecording(ctx context.Context, recording *analytics.SessionRecording) error {
	return h.post(ctx, "/recording", recording)
}

func (h *HTTP) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: POST %s returned %d", analytics.ErrDeliveryFailed, path, resp.StatusCode)
	}
	return nil
}
