package retention

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
	block   chan struct{}
}

func (p *fakePruner) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.deleted, p.err
}

func (p *fakePruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func TestNewSweeper(t *testing.T) {
	t.Run("Invalid schedule", func(t *testing.T) {
		_, err := NewSweeper("every tuesday", nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("Zero age targets are skipped", func(t *testing.T) {
		s, err := NewSweeper("@daily", []Target{
			{Name: "events", Pruner: &fakePruner{}, MaxAge: time.Hour},
			{Name: "heatmaps", Pruner: &fakePruner{}},
		}, nil, nil)
		require.NoError(t, err)
		require.Len(t, s.Targets(), 1)
		assert.Equal(t, "events", s.Targets()[0].Name)
	})
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)

	t.Run("Cutoff per target", func(t *testing.T) {
		events := &fakePruner{deleted: 12}
		recordings := &fakePruner{deleted: 3}
		reg := prometheus.NewRegistry()

		s, err := NewSweeper("@daily", []Target{
			{Name: "events", Pruner: events, MaxAge: 48 * time.Hour},
			{Name: "recordings", Pruner: recordings, MaxAge: time.Hour},
		}, reg, nil)
		require.NoError(t, err)
		s.now = func() time.Time { return now }

		require.NoError(t, s.Sweep(context.Background()))

		assert.Equal(t, []time.Time{now.Add(-48 * time.Hour)}, events.calls())
		assert.Equal(t, []time.Time{now.Add(-time.Hour)}, recordings.calls())

		expected := `
# HELP collector_retention_deleted_total Records removed by retention sweeps.
# TYPE collector_retention_deleted_total counter
collector_retention_deleted_total{target="events"} 12
collector_retention_deleted_total{target="recordings"} 3
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "collector_retention_deleted_total"))
	})

	t.Run("Failure does not stop other targets", func(t *testing.T) {
		broken := &fakePruner{err: errors.New("connection refused")}
		healthy := &fakePruner{deleted: 1}

		s, err := NewSweeper("@daily", []Target{
			{Name: "events", Pruner: broken, MaxAge: time.Hour},
			{Name: "recordings", Pruner: healthy, MaxAge: time.Hour},
		}, nil, nil)
		require.NoError(t, err)

		err = s.Sweep(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "events")
		assert.Len(t, healthy.calls(), 1)
		assert.Equal(t, float64(1), testutil.ToFloat64(s.failed.WithLabelValues("events")))
	})

	t.Run("Overlapping sweep is skipped", func(t *testing.T) {
		slow := &fakePruner{block: make(chan struct{})}
		s, err := NewSweeper("@daily", []Target{{Name: "events", Pruner: slow, MaxAge: time.Hour}}, nil, nil)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- s.Sweep(context.Background()) }()

		require.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.running
		}, time.Second, 5*time.Millisecond)

		assert.NoError(t, s.Sweep(context.Background()))
		close(slow.block)
		require.NoError(t, <-done)
		assert.Len(t, slow.calls(), 1)
	})

	t.Run("Start and Stop", func(t *testing.T) {
		s, err := NewSweeper("@every 1h", []Target{{Name: "events", Pruner: &fakePruner{}, MaxAge: time.Hour}}, nil, nil)
		require.NoError(t, err)

		s.Start()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
}
