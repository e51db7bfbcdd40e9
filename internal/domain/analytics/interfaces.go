package analytics

import (
	"context"
	"time"
)

// Transport delivers tracked data to the collector
type Transport interface {
	// SendEvents posts a batch of events
	SendEvents(ctx context.Context, events []*Event) error

	// SendHeatmap posts buffered heatmap points for a page
	SendHeatmap(ctx context.Context, page string, points []HeatmapPoint) error

	// SendRecording posts a finished session recording
	SendRecording(ctx context.Context, recording *SessionRecording) error
}

// Storage is a small key/value store standing in for browser session/local storage.
// Get returns ErrNotFound for missing keys. A zero ttl means no expiry.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// EventRepository persists ingested events
type EventRepository interface {
	// StoreBatch stores events in a single round trip
	StoreBatch(ctx context.Context, events []*Event) error

	// List retrieves events matching the filter, newest first
	List(ctx context.Context, filter EventFilter) ([]*Event, error)

	// CountByName returns stored event counts keyed by event name
	CountByName(ctx context.Context, filter EventFilter) (map[string]int64, error)
}

// HeatmapRepository persists heatmap points
type HeatmapRepository interface {
	// InsertBatch stores the points recorded on page
	InsertBatch(ctx context.Context, page string, points []HeatmapPoint) error

	// Aggregate returns per-selector totals for page
	Aggregate(ctx context.Context, page string, limit int) ([]HeatmapCell, error)
}

// RecordingRepository persists session recordings
type RecordingRepository interface {
	// Save stores a recording, replacing any recording with the same session id
	Save(ctx context.Context, recording *SessionRecording) error

	// GetBySession retrieves the recording for a session
	GetBySession(ctx context.Context, sessionID string) (*SessionRecording, error)
}
