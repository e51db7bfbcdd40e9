package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons
const (
	dropOverflow    = "overflow"
	dropMaxAttempts = "max_attempts"
)

// Metrics holds tracker collectors
type Metrics struct {
	EventsTracked  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	Flushes        *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	GoalsCompleted prometheus.Counter
	FunnelSteps    prometheus.Counter
}

// NewMetrics registers tracker metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTracked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_events_tracked_total",
				Help: "Total number of events tracked",
			},
			[]string{"category"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_events_dropped_total",
				Help: "Events dropped before delivery",
			},
			[]string{"reason"},
		),
		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_flushes_total",
				Help: "Event batch deliveries by result",
			},
			[]string{"result"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_queue_depth",
				Help: "Events waiting for delivery",
			},
		),
		GoalsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_goals_completed_total",
				Help: "Conversion goals completed",
			},
		),
		FunnelSteps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_funnel_steps_completed_total",
				Help: "Funnel steps completed",
			},
		),
	}
}
