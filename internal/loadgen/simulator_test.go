package loadgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/heatmap"
	"github.com/victoralfred/marketpulse/internal/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingTransport struct {
	mu         sync.Mutex
	events     []*analytics.Event
	points     int
	recordings []*analytics.SessionRecording
	err        error
}

func (c *countingTransport) SendEvents(_ context.Context, events []*analytics.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, events...)
	return nil
}

func (c *countingTransport) SendHeatmap(_ context.Context, _ string, points []analytics.HeatmapPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points += len(points)
	return nil
}

func (c *countingTransport) SendRecording(_ context.Context, r *analytics.SessionRecording) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordings = append(c.recordings, r)
	return nil
}

func (c *countingTransport) userEvents() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range c.events {
		counts[e.Name]++
	}
	return counts
}

func testConfig() Config {
	trackerCfg := tracker.DefaultConfig()
	trackerCfg.FlushInterval = time.Hour
	trackerCfg.MaxAttempts = 1

	return Config{
		Sessions:         6,
		Concurrency:      3,
		EventsPerSession: 12,
		Seed:             42,
		Record:           true,
		Tracker:          trackerCfg,
		Heatmap:          heatmap.Config{Threshold: 10},
	}
}

func TestSimulator(t *testing.T) {
	t.Run("delivers every session", func(t *testing.T) {
		transport := &countingTransport{}
		defs, err := config.ParseDefinitions([]byte(`
goals:
  - id: purchase
    name: Purchase
    type: event
    value: "60"
    conditions:
      - field: name
        operator: equals
        value: purchase
funnels:
  - id: checkout
    steps:
      - event: add_to_cart
      - event: begin_checkout
      - event: purchase
`))
		require.NoError(t, err)

		sim := New(testConfig(), transport, WithDefinitions(defs), WithRegisterer(prometheus.NewRegistry()))
		result, err := sim.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(6), result.Sessions)
		assert.Equal(t, int64(0), result.Failures)
		assert.Equal(t, int64(6), result.Recordings)
		assert.Len(t, transport.recordings, 6)

		counts := transport.userEvents()
		assert.Equal(t, int(result.PageViews), counts[analytics.EventPageView])
		assert.Equal(t, int(result.Goals), counts[analytics.EventGoalCompleted])

		tracked := 0
		for name, n := range counts {
			switch name {
			case analytics.EventPageView, analytics.EventGoalCompleted, analytics.EventFunnelStepCompleted:
			default:
				tracked += n
			}
		}
		assert.Equal(t, int(result.Events), tracked)

		// Every click also lands in the heatmap, flushed on close
		assert.Equal(t, int(result.Events), transport.points)
	})

	t.Run("same seed same traffic", func(t *testing.T) {
		first := &countingTransport{}
		second := &countingTransport{}

		r1, err := New(testConfig(), first).Run(context.Background())
		require.NoError(t, err)
		r2, err := New(testConfig(), second).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, r1.Events, r2.Events)
		assert.Equal(t, r1.PageViews, r2.PageViews)
		assert.Equal(t, first.userEvents(), second.userEvents())
	})

	t.Run("delivery failures are counted", func(t *testing.T) {
		transport := &countingTransport{err: errors.New("collector down")}

		cfg := testConfig()
		cfg.Record = false
		// Short sessions stay under one batch so the failure surfaces on Close
		cfg.EventsPerSession = 5
		result, err := New(cfg, transport).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(6), result.Failures)
	})

	t.Run("cancelled run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cfg := testConfig()
		cfg.Think = time.Second
		_, err := New(cfg, &countingTransport{}).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
