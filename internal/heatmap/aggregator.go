// Package heatmap buffers click and hover samples per page and ships them to the collector.
package heatmap

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Config holds aggregator tuning
type Config struct {
	// Threshold is the per-page buffer length that triggers a send
	Threshold int
	// FlushInterval enables a periodic flush of partial buffers; zero disables it
	FlushInterval time.Duration
	// SendTimeout bounds a background send
	SendTimeout time.Duration
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		Threshold:   100,
		SendTimeout: 10 * time.Second,
	}
}

// Sample is one pointer interaction on a page
type Sample struct {
	Page        string
	Target      *Element
	X           float64
	Y           float64
	ScrollDepth float64
}

type metrics struct {
	points  *prometheus.CounterVec
	dropped prometheus.Counter
	sends   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		points: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heatmap_points_recorded_total",
			Help: "Heatmap points recorded by kind",
		}, []string{"kind"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "heatmap_points_dropped_total",
			Help: "Heatmap points lost to failed sends or recorded after close",
		}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heatmap_sends_total",
			Help: "Heatmap batch sends by result",
		}, []string{"result"}),
	}
}

// Aggregator buffers heatmap points. Points are sent as recorded, one per interaction;
// summing per selector is left to the collector.
type Aggregator struct {
	cfg       Config
	transport analytics.Transport
	logger    *zap.Logger
	metrics   *metrics

	mu      sync.Mutex
	buffers map[string][]analytics.HeatmapPoint
	closed  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRegisterer registers metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Aggregator) {
		a.metrics = newMetrics(reg)
	}
}

// New creates an aggregator; a periodic flush starts when cfg.FlushInterval is set
func New(cfg Config, transport analytics.Transport, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	a := &Aggregator{
		cfg:       cfg,
		transport: transport,
		logger:    zap.NewNop(),
		buffers:   make(map[string][]analytics.HeatmapPoint),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = newMetrics(prometheus.NewRegistry())
	}

	if cfg.FlushInterval > 0 {
		a.wg.Add(1)
		go a.loop()
	}
	return a
}

// RecordClick buffers a click point
func (a *Aggregator) RecordClick(s Sample) {
	a.record(s, "click", analytics.HeatmapPoint{Clicks: 1})
}

// RecordHover buffers a hover point
func (a *Aggregator) RecordHover(s Sample) {
	a.record(s, "hover", analytics.HeatmapPoint{Hovers: 1})
}

func (a *Aggregator) record(s Sample, kind string, point analytics.HeatmapPoint) {
	point.Element = Selector(s.Target)
	point.X = s.X
	point.Y = s.Y
	point.ScrollDepth = s.ScrollDepth

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.metrics.dropped.Inc()
		return
	}

	a.buffers[s.Page] = append(a.buffers[s.Page], point)
	a.metrics.points.WithLabelValues(kind).Inc()

	if len(a.buffers[s.Page]) < a.cfg.Threshold {
		return
	}

	batch := a.buffers[s.Page]
	delete(a.buffers, s.Page)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
		defer cancel()
		_ = a.send(ctx, s.Page, batch)
	}()
}

// Pending returns the number of buffered points for page
func (a *Aggregator) Pending(page string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers[page])
}

// Flush sends every non-empty buffer and returns the last error
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	buffers := a.buffers
	a.buffers = make(map[string][]analytics.HeatmapPoint)
	a.mu.Unlock()

	var lastErr error
	for page, points := range buffers {
		if err := a.send(ctx, page, points); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// send delivers points; failed points are not buffered again
func (a *Aggregator) send(ctx context.Context, page string, points []analytics.HeatmapPoint) error {
	if len(points) == 0 {
		return nil
	}

	if err := a.transport.SendHeatmap(ctx, page, points); err != nil {
		a.metrics.sends.WithLabelValues("failure").Inc()
		a.metrics.dropped.Add(float64(len(points)))
		a.logger.Error("Failed to send heatmap data",
			zap.String("page", page),
			zap.Int("points", len(points)),
			zap.Error(err),
		)
		return err
	}

	a.metrics.sends.WithLabelValues("success").Inc()
	return nil
}

func (a *Aggregator) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
			_ = a.Flush(ctx)
			cancel()
		case <-a.stopCh:
			return
		}
	}
}

// Close stops the periodic flush, sends what is buffered and waits for in-flight sends
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stopCh)
	err := a.Flush(ctx)
	a.wg.Wait()
	return err
}
