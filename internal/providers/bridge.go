package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// BridgeConfig holds dispatch tuning
type BridgeConfig struct {
	// Workers is the number of goroutines calling providers
	Workers int
	// QueueSize bounds pending calls; calls past it are dropped
	QueueSize int
	// CallTimeout bounds a single provider call
	CallTimeout time.Duration
}

// DefaultBridgeConfig returns the default dispatch configuration
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Workers:     2,
		QueueSize:   256,
		CallTimeout: 5 * time.Second,
	}
}

type call struct {
	provider Provider
	method   string
	invoke   func(ctx context.Context) error
}

// Bridge fans tracker calls out to every registered provider. A failing or
// panicking provider is logged at debug level and never affects the caller.
type Bridge struct {
	cfg    BridgeConfig
	logger *zap.Logger

	calls   *prometheus.CounterVec
	dropped *prometheus.CounterVec

	mu        sync.RWMutex
	providers []Provider
	closed    bool

	queue chan call
	wg    sync.WaitGroup
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRegisterer registers metrics on reg
func WithRegisterer(reg prometheus.Registerer) BridgeOption {
	return func(b *Bridge) {
		b.registerMetrics(reg)
	}
}

// NewBridge creates a bridge and starts its workers
func NewBridge(cfg BridgeConfig, opts ...BridgeOption) *Bridge {
	def := DefaultBridgeConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	b := &Bridge{
		cfg:    cfg,
		logger: zap.NewNop(),
		queue:  make(chan call, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.calls == nil {
		b.registerMetrics(prometheus.NewRegistry())
	}

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bridge) registerMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	b.calls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_calls_total",
		Help: "Provider calls by provider, method and result",
	}, []string{"provider", "method", "result"})
	b.dropped = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_calls_dropped_total",
		Help: "Provider calls dropped because the dispatch queue was full",
	}, []string{"provider"})
}

// Register adds a provider. Providers registered later only see later calls.
func (b *Bridge) Register(p Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = append(b.providers, p)
	b.logger.Info("Analytics provider registered", zap.String("provider", p.Name()))
}

// Providers returns the registered provider names
func (b *Bridge) Providers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, len(b.providers))
	for i, p := range b.providers {
		names[i] = p.Name()
	}
	return names
}

// Track forwards an event to every provider
func (b *Bridge) Track(_ context.Context, event *analytics.Event) {
	b.dispatch(MethodTrack, func(p Provider) func(context.Context) error {
		return func(ctx context.Context) error { return p.Track(ctx, event) }
	})
}

// Identify forwards a user identity to every provider
func (b *Bridge) Identify(_ context.Context, userID string, traits map[string]interface{}) {
	b.dispatch(MethodIdentify, func(p Provider) func(context.Context) error {
		return func(ctx context.Context) error { return p.Identify(ctx, userID, traits) }
	})
}

// Page forwards a page view to every provider
func (b *Bridge) Page(_ context.Context, view *analytics.PageView) {
	b.dispatch(MethodPage, func(p Provider) func(context.Context) error {
		return func(ctx context.Context) error { return p.Page(ctx, view) }
	})
}

func (b *Bridge) dispatch(method string, bind func(Provider) func(context.Context) error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, p := range b.providers {
		c := call{provider: p, method: method, invoke: bind(p)}
		select {
		case b.queue <- c:
		default:
			b.dropped.WithLabelValues(p.Name()).Inc()
			b.logger.Debug("Provider queue full, dropping call",
				zap.String("provider", p.Name()),
				zap.String("method", method),
			)
		}
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for c := range b.queue {
		b.run(c)
	}
}

// run invokes one provider call, containing errors and panics
func (b *Bridge) run(c call) {
	name := c.provider.Name()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider panic: %v", r)
			}
		}()
		return c.invoke(ctx)
	}()

	if err != nil {
		b.calls.WithLabelValues(name, c.method, "error").Inc()
		b.logger.Debug("Provider call failed",
			zap.String("provider", name),
			zap.String("method", c.method),
			zap.Error(err),
		)
		return
	}
	b.calls.WithLabelValues(name, c.method, "success").Inc()
}

// Close stops accepting calls and waits until queued calls have run or ctx ends
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
