// Package recorder captures a timestamped log of user interactions for replay.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// maskedValue replaces the value of sensitive inputs
const maskedValue = "***"

// DefaultScrollDebounce is the quiet period before a scroll is recorded
const DefaultScrollDebounce = 100 * time.Millisecond

// Session supplies the identity stamped on new recordings
type Session interface {
	SessionID() string
	UserID() string
}

// Recorder holds at most one active recording
type Recorder struct {
	session   Session
	transport analytics.Transport
	logger    *zap.Logger
	debounce  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	recording *analytics.SessionRecording

	// scroll debounce state
	scrollTimer   *time.Timer
	pendingScroll map[string]interface{}
	scrollGen     uint64
}

// Option configures a Recorder
type Option func(*Recorder)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithScrollDebounce overrides the scroll debounce period
func WithScrollDebounce(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates an idle recorder
func New(session Session, transport analytics.Transport, opts ...Option) *Recorder {
	r := &Recorder{
		session:   session,
		transport: transport,
		logger:    zap.NewNop(),
		debounce:  DefaultScrollDebounce,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a recording. It is a no-op while a recording is active.
func (r *Recorder) Start(metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording != nil {
		return
	}

	md := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	r.recording = &analytics.SessionRecording{
		SessionID: r.session.SessionID(),
		UserID:    r.session.UserID(),
		StartTime: r.now(),
		Events:    []analytics.RecordingEvent{},
		Metadata:  md,
	}
	r.logger.Debug("Session recording started", zap.String("session_id", r.recording.SessionID))
}

// Active reports whether a recording is in progress
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording != nil
}

// Current returns a copy of the active recording, or nil
func (r *Recorder) Current() *analytics.SessionRecording {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording == nil {
		return nil
	}
	cp := *r.recording
	cp.Events = append([]analytics.RecordingEvent(nil), r.recording.Events...)
	return &cp
}

// RecordClick logs a click on the element matched by selector
func (r *Recorder) RecordClick(selector string, x, y float64) {
	r.append(analytics.RecordingClick, map[string]interface{}{
		"selector": selector,
		"x":        x,
		"y":        y,
	})
}

// RecordInput logs a form input change. Password fields are masked.
func (r *Recorder) RecordInput(selector, inputType, value string) {
	if strings.EqualFold(inputType, "password") {
		value = maskedValue
	}
	r.append(analytics.RecordingInput, map[string]interface{}{
		"selector":  selector,
		"inputType": inputType,
		"value":     value,
	})
}

// RecordNavigation logs a route change
func (r *Recorder) RecordNavigation(from, to string) {
	r.append(analytics.RecordingNavigation, map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// RecordScroll logs the scroll position once scrolling has been quiet for the debounce period.
// Only the last position of a burst is kept.
func (r *Recorder) RecordScroll(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording == nil {
		return
	}

	r.pendingScroll = map[string]interface{}{"x": x, "y": y}
	r.scrollGen++
	gen := r.scrollGen

	if r.scrollTimer != nil {
		r.scrollTimer.Stop()
	}
	r.scrollTimer = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if gen != r.scrollGen {
			return
		}
		r.commitScrollLocked()
	})
}

func (r *Recorder) commitScrollLocked() {
	if r.pendingScroll == nil || r.recording == nil {
		return
	}
	r.recording.Events = append(r.recording.Events, analytics.RecordingEvent{
		Type:      analytics.RecordingScroll,
		Timestamp: r.now(),
		Data:      r.pendingScroll,
	})
	r.pendingScroll = nil
}

func (r *Recorder) append(typ analytics.RecordingEventType, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording == nil {
		return
	}
	r.recording.Events = append(r.recording.Events, analytics.RecordingEvent{
		Type:      typ,
		Timestamp: r.now(),
		Data:      data,
	})
}

// Stop ends the active recording and sends it. The recording is cleared even when
// the send fails.
func (r *Recorder) Stop(ctx context.Context) (*analytics.SessionRecording, error) {
	r.mu.Lock()
	if r.recording == nil {
		r.mu.Unlock()
		return nil, analytics.ErrRecordingNotActive
	}

	if r.scrollTimer != nil {
		r.scrollTimer.Stop()
		r.scrollTimer = nil
	}
	r.scrollGen++
	r.commitScrollLocked()

	recording := r.recording
	end := r.now()
	recording.EndTime = &end
	r.recording = nil
	r.mu.Unlock()

	if err := r.transport.SendRecording(ctx, recording); err != nil {
		r.logger.Error("Failed to send session recording",
			zap.String("session_id", recording.SessionID),
			zap.Int("events", len(recording.Events)),
			zap.Error(err),
		)
		return recording, fmt.Errorf("send recording: %w", err)
	}

	r.logger.Debug("Session recording sent",
		zap.String("session_id", recording.SessionID),
		zap.Int("events", len(recording.Events)),
	)
	return recording, nil
}
