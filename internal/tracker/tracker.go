// Package tracker implements the event pipeline: queueing and batched delivery,
// goal and funnel evaluation, page view bookkeeping and user identity.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Dispatcher forwards events to third-party providers. Implementations must not block for long.
type Dispatcher interface {
	Track(ctx context.Context, event *analytics.Event)
	Identify(ctx context.Context, userID string, traits map[string]interface{})
	Page(ctx context.Context, view *analytics.PageView)
}

type queuedEvent struct {
	event    *analytics.Event
	attempts int
}

// Tracker owns all in-memory analytics state of one client session
type Tracker struct {
	cfg        Config
	transport  analytics.Transport
	storage    analytics.Storage
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time

	mu        sync.Mutex
	events    []*analytics.Event
	queue     []queuedEvent
	pageViews []*analytics.PageView
	goals     map[string]*goalEntry
	goalOrder []string
	funnels   map[string]*analytics.Funnel
	fnlOrder  []string
	segments  []compiledSegment
	sessionID string
	userID    string
	profile   *analytics.UserProfile
	failures  int
	retryAt   time.Time
	closed    bool

	// slot serializes deliveries; holding it means a send is in flight
	slot   chan struct{}
	stopCh chan struct{}
	loopWG sync.WaitGroup
	sendWG sync.WaitGroup
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithStorage sets the storage used for the session id and user profile
func WithStorage(storage analytics.Storage) Option {
	return func(t *Tracker) {
		t.storage = storage
	}
}

// WithDispatcher registers the provider bridge
func WithDispatcher(d Dispatcher) Option {
	return func(t *Tracker) {
		t.dispatcher = d
	}
}

// WithRegisterer registers metrics on reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		t.metrics = NewMetrics(reg)
	}
}

// WithMetrics shares one set of collectors between trackers
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker and starts its background flush loop
func New(ctx context.Context, cfg Config, transport analytics.Transport, opts ...Option) *Tracker {
	cfg.applyDefaults()

	t := &Tracker{
		cfg:       cfg,
		transport: transport,
		logger:    zap.NewNop(),
		now:       time.Now,
		goals:     make(map[string]*goalEntry),
		funnels:   make(map[string]*analytics.Funnel),
		slot:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if t.storage == nil {
		t.storage = NewMemoryStorage()
	}

	t.segments = t.compileSegments(cfg.SegmentRules)
	t.sessionID = t.loadOrCreateSession(ctx)
	t.profile = t.loadProfile(ctx)
	if t.profile != nil {
		t.userID = t.profile.UserID
	}

	t.loopWG.Add(1)
	go t.loop()

	return t
}

// TrackOption customizes a tracked event
type TrackOption func(*analytics.Event)

// WithCategory sets the event category
func WithCategory(category string) TrackOption {
	return func(e *analytics.Event) {
		e.Category = category
	}
}

// WithAction sets the event action
func WithAction(action string) TrackOption {
	return func(e *analytics.Event) {
		e.Action = action
	}
}

// WithLabel sets the event label
func WithLabel(label string) TrackOption {
	return func(e *analytics.Event) {
		e.Label = label
	}
}

// WithValue sets the numeric event value
func WithValue(value float64) TrackOption {
	return func(e *analytics.Event) {
		e.Value = &value
	}
}

// Track records an event, evaluates goals and funnels and forwards it to providers.
// Any name is accepted; the created event is returned.
func (t *Tracker) Track(ctx context.Context, name string, properties map[string]interface{}, opts ...TrackOption) *analytics.Event {
	t.mu.Lock()
	event := t.newEventLocked(name, properties)
	for _, opt := range opts {
		opt(event)
	}
	emitted := t.ingestLocked(event, nil)
	t.mu.Unlock()

	t.forward(ctx, event, emitted)
	return event
}

// newEventLocked builds an event stamped with the current session and user
func (t *Tracker) newEventLocked(name string, properties map[string]interface{}) *analytics.Event {
	metadata := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		metadata[k] = v
	}

	return &analytics.Event{
		ID:        uuid.New().String(),
		Name:      name,
		Category:  analytics.CategoryCustom,
		Metadata:  metadata,
		Timestamp: t.now(),
		SessionID: t.sessionID,
		UserID:    t.userID,
	}
}

// ingestLocked appends the event, runs the evaluators and triggers a size flush.
// It returns the meta-events emitted by the evaluators.
func (t *Tracker) ingestLocked(event *analytics.Event, view *analytics.PageView) []*analytics.Event {
	t.appendLocked(event)

	var emitted []*analytics.Event
	if !event.IsMeta() {
		emitted = append(emitted, t.evaluateGoalsLocked(event, analytics.GoalTypeEvent)...)
		if view != nil {
			emitted = append(emitted, t.evaluateGoalsLocked(view, analytics.GoalTypePageView)...)
		}
		emitted = append(emitted, t.evaluateFunnelsLocked(event)...)
	}

	if len(t.queue) >= t.cfg.BatchSize {
		t.autoFlushLocked()
	}
	return emitted
}

func (t *Tracker) appendLocked(event *analytics.Event) {
	t.events = append(t.events, event)
	if over := len(t.events) - t.cfg.MaxEventLog; over > 0 {
		t.events = append([]*analytics.Event(nil), t.events[over:]...)
	}

	t.queue = append(t.queue, queuedEvent{event: event})
	t.enforceBoundLocked()

	t.metrics.EventsTracked.WithLabelValues(event.Category).Inc()
	t.metrics.QueueDepth.Set(float64(len(t.queue)))
}

// enforceBoundLocked drops the oldest queued events past MaxQueueSize
func (t *Tracker) enforceBoundLocked() {
	over := len(t.queue) - t.cfg.MaxQueueSize
	if over <= 0 {
		return
	}

	t.queue = append([]queuedEvent(nil), t.queue[over:]...)
	t.metrics.EventsDropped.WithLabelValues(dropOverflow).Add(float64(over))
	t.logger.Warn("Event queue overflow, dropped oldest events",
		zap.Int("dropped", over),
		zap.Int("max_queue_size", t.cfg.MaxQueueSize),
	)
}

func (t *Tracker) forward(ctx context.Context, event *analytics.Event, emitted []*analytics.Event) {
	if t.dispatcher == nil {
		return
	}
	t.dispatcher.Track(ctx, event)
	for _, e := range emitted {
		t.dispatcher.Track(ctx, e)
	}
}

// autoFlushLocked hands the whole queue to a background send unless one is in flight,
// the tracker is closed or a retry backoff is pending. A busy send re-checks the queue
// when it completes.
func (t *Tracker) autoFlushLocked() {
	if t.closed || len(t.queue) == 0 || t.now().Before(t.retryAt) {
		return
	}

	select {
	case t.slot <- struct{}{}:
	default:
		return
	}

	batch := t.takeLocked()
	t.sendWG.Add(1)
	go t.sendLoop(batch)
}

func (t *Tracker) takeLocked() []queuedEvent {
	batch := t.queue
	t.queue = nil
	t.metrics.QueueDepth.Set(0)
	return batch
}

// sendLoop delivers batches while the slot is held, chaining into the next batch if
// the queue refilled past the threshold meanwhile.
func (t *Tracker) sendLoop(batch []queuedEvent) {
	defer t.sendWG.Done()

	for batch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
		err := t.deliver(ctx, batch)
		cancel()

		t.mu.Lock()
		t.settleLocked(batch, err)
		batch = nil
		if err == nil && !t.closed && len(t.queue) >= t.cfg.BatchSize {
			batch = t.takeLocked()
		}
		if batch == nil {
			<-t.slot
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) deliver(ctx context.Context, batch []queuedEvent) error {
	events := make([]*analytics.Event, len(batch))
	for i, q := range batch {
		events[i] = q.event
	}
	return t.transport.SendEvents(ctx, events)
}

// settleLocked records the outcome of a delivery. Failed events go back to the front
// of the queue ahead of anything tracked since.
func (t *Tracker) settleLocked(batch []queuedEvent, err error) {
	if err == nil {
		t.failures = 0
		t.retryAt = time.Time{}
		t.metrics.Flushes.WithLabelValues("success").Inc()
		return
	}

	t.failures++
	t.retryAt = t.now().Add(t.backoff(t.failures))
	t.metrics.Flushes.WithLabelValues("failure").Inc()

	survivors := make([]queuedEvent, 0, len(batch)+len(t.queue))
	dropped := 0
	for _, q := range batch {
		q.attempts++
		if q.attempts >= t.cfg.MaxAttempts {
			dropped++
			continue
		}
		survivors = append(survivors, q)
	}
	t.queue = append(survivors, t.queue...)
	t.enforceBoundLocked()
	t.metrics.QueueDepth.Set(float64(len(t.queue)))

	if dropped > 0 {
		t.metrics.EventsDropped.WithLabelValues(dropMaxAttempts).Add(float64(dropped))
	}

	t.logger.Error("Failed to flush events",
		zap.Error(err),
		zap.Int("batch_size", len(batch)),
		zap.Int("requeued", len(survivors)),
		zap.Int("dropped", dropped),
		zap.Int("consecutive_failures", t.failures),
		zap.Time("retry_at", t.retryAt),
	)
}

// backoff returns BackoffBase * 2^(n-1) capped at BackoffMax
func (t *Tracker) backoff(n int) time.Duration {
	d := t.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= t.cfg.BackoffMax {
			return t.cfg.BackoffMax
		}
	}
	return d
}

func (t *Tracker) loop() {
	defer t.loopWG.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.autoFlushLocked()
			t.mu.Unlock()
		case <-t.stopCh:
			return
		}
	}
}

// Flush delivers everything queued and waits for the result. Pending backoff is ignored.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return analytics.ErrTrackerClosed
	}
	return t.flush(ctx)
}

func (t *Tracker) flush(ctx context.Context) error {
	select {
	case t.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.slot }()

	t.mu.Lock()
	batch := t.takeLocked()
	t.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	err := t.deliver(ctx, batch)

	t.mu.Lock()
	t.settleLocked(batch, err)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return nil
}

// Close stops the flush loop, delivers what is queued and waits for in-flight sends.
// Events tracked afterwards are kept in memory only.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopCh)
	t.loopWG.Wait()

	err := t.flush(ctx)
	t.sendWG.Wait()
	return err
}

// QueueLen returns the number of events awaiting delivery
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Events returns a copy of the tracked event log
func (t *Tracker) Events() []*analytics.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*analytics.Event(nil), t.events...)
}

// SessionID returns the current session id
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// UserID returns the identified user id, empty before Identify
func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}
