// Package loadgen drives simulated marketplace sessions through the tracking SDK.
package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/heatmap"
	"github.com/victoralfred/marketpulse/internal/recorder"
	"github.com/victoralfred/marketpulse/internal/tracker"
)

// Config controls a load run
type Config struct {
	Sessions         int
	Concurrency      int
	EventsPerSession int
	// Seed makes runs reproducible; zero picks a random seed
	Seed uint64
	// Think is the pause between simulated interactions
	Think time.Duration
	// Record enables session recording for every session
	Record bool

	Tracker tracker.Config
	Heatmap heatmap.Config
}

// Result summarizes a run
type Result struct {
	Sessions   int64
	Events     int64
	PageViews  int64
	Goals      int64
	Recordings int64
	Failures   int64
	Elapsed    time.Duration
}

// Simulator runs sessions against a transport
type Simulator struct {
	cfg         Config
	transport   analytics.Transport
	definitions *config.Definitions
	storage     analytics.Storage
	dispatcher  tracker.Dispatcher
	logger      *zap.Logger
	registerer  prometheus.Registerer
}

// Option configures a Simulator
type Option func(*Simulator)

// WithDefinitions registers goals and funnels on every tracker
func WithDefinitions(defs *config.Definitions) Option {
	return func(s *Simulator) {
		s.definitions = defs
	}
}

// WithStorage shares one storage between sessions; keys are namespaced per session
func WithStorage(storage analytics.Storage) Option {
	return func(s *Simulator) {
		s.storage = storage
	}
}

// WithDispatcher forwards tracker calls to third-party providers
func WithDispatcher(d tracker.Dispatcher) Option {
	return func(s *Simulator) {
		s.dispatcher = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer exposes SDK metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Simulator) {
		s.registerer = reg
	}
}

// New creates a simulator
func New(cfg Config, transport analytics.Transport, opts ...Option) *Simulator {
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.EventsPerSession <= 0 {
		cfg.EventsPerSession = 10
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}

	s := &Simulator{
		cfg:         cfg,
		transport:   transport,
		definitions: &config.Definitions{},
		logger:      zap.NewNop(),
		registerer:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = tracker.NewMemoryStorage()
	}
	return s
}

// Run simulates every session and flushes all buffered data before returning.
// Session failures are counted, not returned; only setup errors and ctx cancellation fail the run.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	trackerMetrics := tracker.NewMetrics(s.registerer)
	agg := heatmap.New(s.cfg.Heatmap, s.transport,
		heatmap.WithLogger(s.logger.Named("heatmap")),
		heatmap.WithRegisterer(s.registerer),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := 0; i < s.cfg.Sessions; i++ {
		if gctx.Err() != nil {
			break
		}
		rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(i)))
		g.Go(func() error {
			stats, err := s.runSession(gctx, i, rng, trackerMetrics, agg)
			atomic.AddInt64(&result.Sessions, 1)
			atomic.AddInt64(&result.Events, stats.events)
			atomic.AddInt64(&result.PageViews, stats.pageViews)
			atomic.AddInt64(&result.Goals, stats.goals)
			atomic.AddInt64(&result.Recordings, stats.recordings)
			if err != nil {
				atomic.AddInt64(&result.Failures, 1)
				s.logger.Warn("Session failed", zap.Int("session", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := agg.Close(closeCtx); err != nil {
		s.logger.Warn("Heatmap flush incomplete", zap.Error(err))
	}

	result.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

type sessionStats struct {
	events     int64
	pageViews  int64
	goals      int64
	recordings int64
}

func (s *Simulator) runSession(ctx context.Context, n int, rng *rand.Rand, m *tracker.Metrics, agg *heatmap.Aggregator) (sessionStats, error) {
	var stats sessionStats

	cfg := s.cfg.Tracker
	cfg.Namespace = fmt.Sprintf("loadgen-%d", n)
	opts := []tracker.Option{
		tracker.WithLogger(s.logger.Named("tracker")),
		tracker.WithStorage(s.storage),
		tracker.WithMetrics(m),
	}
	if s.dispatcher != nil {
		opts = append(opts, tracker.WithDispatcher(s.dispatcher))
	}
	t := tracker.New(ctx, cfg, s.transport, opts...)

	for _, goal := range s.definitions.Goals {
		if err := t.DefineGoal(goal); err != nil {
			_ = t.Close(context.Background())
			return stats, fmt.Errorf("define goal %s: %w", goal.ID, err)
		}
	}
	for _, funnel := range s.definitions.Funnels {
		if err := t.DefineFunnel(funnel); err != nil {
			_ = t.Close(context.Background())
			return stats, fmt.Errorf("define funnel %s: %w", funnel.ID, err)
		}
	}

	var rec *recorder.Recorder
	if s.cfg.Record {
		rec = recorder.New(t, s.transport, recorder.WithLogger(s.logger.Named("recorder")))
		rec.Start(map[string]interface{}{"source": "loadgen", "session": n})
	}

	page := pages[0]
	t.TrackPageView(ctx, page.path, page.title, "")
	stats.pageViews++

	if rng.IntN(3) > 0 {
		t.Identify(ctx, fmt.Sprintf("user-%d", n), map[string]interface{}{
			"plan":           plans[rng.IntN(len(plans))],
			"role":           roles[rng.IntN(len(roles))],
			"lifetime_value": float64(rng.IntN(3000)),
		})
	}

	for i := 0; i < s.cfg.EventsPerSession; i++ {
		if err := sleep(ctx, s.cfg.Think); err != nil {
			break
		}

		step := journey[min(i, len(journey)-1)]
		if rng.Float64() < 0.25 {
			step = journey[rng.IntN(len(journey))]
		}

		switch {
		case rng.Float64() < 0.2:
			next := pages[rng.IntN(len(pages))]
			if rec != nil {
				rec.RecordNavigation(page.path, next.path)
			}
			t.TrackPageView(ctx, next.path, next.title, page.path)
			page = next
			stats.pageViews++
		default:
			x, y := rng.Float64()*1280, rng.Float64()*800
			target := &heatmap.Element{Tag: "button", ID: step.element, Parent: &heatmap.Element{Tag: "main"}}
			agg.RecordClick(heatmap.Sample{Page: page.path, Target: target, X: x, Y: y})
			if rec != nil {
				rec.RecordClick(heatmap.Selector(target), x, y)
				rec.RecordScroll(0, rng.Float64()*2000)
			}

			var trackOpts []tracker.TrackOption
			if step.value > 0 {
				trackOpts = append(trackOpts, tracker.WithValue(step.value*(0.5+rng.Float64())))
			}
			t.Track(ctx, step.event, map[string]interface{}{
				"page":    page.path,
				"item_id": fmt.Sprintf("sku-%03d", rng.IntN(200)),
			}, trackOpts...)
			stats.events++
		}
	}

	stats.goals = int64(len(t.CompletedGoals()))

	var sessionErr error
	if rec != nil {
		if _, err := rec.Stop(ctx); err != nil {
			sessionErr = err
		} else {
			stats.recordings++
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.Close(closeCtx); err != nil && sessionErr == nil {
		sessionErr = err
	}
	if left := t.QueueLen(); left > 0 && sessionErr == nil {
		sessionErr = fmt.Errorf("%d events undelivered", left)
	}
	return stats, sessionErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
