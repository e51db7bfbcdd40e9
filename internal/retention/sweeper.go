// Package retention prunes stored analytics data on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner deletes data older than a cutoff
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Target is a named store with its maximum data age
type Target struct {
	Name   string
	Pruner Pruner
	MaxAge time.Duration
}

// Sweeper runs every target on a shared schedule
type Sweeper struct {
	scheduler *cron.Cron
	targets   []Target
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	deleted *prometheus.CounterVec
	failed  *prometheus.CounterVec

	mu      sync.Mutex
	running bool
}

// NewSweeper validates the schedule and registers targets. Targets with a
// zero MaxAge are skipped.
func NewSweeper(schedule string, targets []Target, reg prometheus.Registerer, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sweeper{
		scheduler: cron.New(),
		timeout:   5 * time.Minute,
		logger:    logger.Named("retention"),
		now:       time.Now,
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_retention_deleted_total",
			Help: "Records removed by retention sweeps.",
		}, []string{"target"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_retention_failures_total",
			Help: "Retention sweeps that failed.",
		}, []string{"target"}),
	}

	for _, t := range targets {
		if t.MaxAge <= 0 || t.Pruner == nil {
			continue
		}
		s.targets = append(s.targets, t)
	}

	if _, err := s.scheduler.AddFunc(schedule, func() { _ = s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{s.deleted, s.failed} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("failed to register retention metrics: %w", err)
			}
		}
	}
	return s, nil
}

// Targets returns the active targets
func (s *Sweeper) Targets() []Target {
	return s.targets
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	if len(s.targets) == 0 {
		s.logger.Info("No retention targets configured")
		return
	}
	s.scheduler.Start()
	s.logger.Info("Retention schedule started", zap.Int("targets", len(s.targets)))
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to expire
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Retention sweep still running at shutdown")
	}
}

// Sweep prunes every target once. An overlapping call returns immediately.
// Failures of one target do not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var errs []error
	now := s.now()
	for _, t := range s.targets {
		cutoff := now.Add(-t.MaxAge)
		n, err := t.Pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.failed.WithLabelValues(t.Name).Inc()
			s.logger.Error("Retention sweep failed", zap.String("target", t.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		s.deleted.WithLabelValues(t.Name).Add(float64(n))
		s.logger.Info("Retention sweep completed",
			zap.String("target", t.Name),
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", n),
		)
	}
	return errors.Join(errs...)
}
