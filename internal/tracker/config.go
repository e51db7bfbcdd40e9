package tracker

import (
	"time"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Storage keys mirroring the browser storage layout
const (
	SessionKey = "analytics_session_id"
	ProfileKey = "analytics_user_profile"
)

// Config holds tracker tuning
type Config struct {
	// BatchSize is the queue length that triggers an immediate flush
	BatchSize int
	// FlushInterval is the period of the background flush
	FlushInterval time.Duration
	// MaxQueueSize bounds pending events; the oldest are dropped past it
	MaxQueueSize int
	// MaxAttempts is how many failed deliveries an event survives
	MaxAttempts int
	// BackoffBase and BackoffMax shape the delay after consecutive failures
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// SendTimeout bounds a background delivery
	SendTimeout time.Duration
	// SessionTTL is the lifetime of the stored session id
	SessionTTL time.Duration
	// Namespace prefixes storage keys, one per device or client
	Namespace string
	// MaxEventLog bounds the in-memory log of tracked events
	MaxEventLog int
	// SegmentRules derive profile segments from traits
	SegmentRules []analytics.SegmentRule
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:     20,
		FlushInterval: 5 * time.Second,
		MaxQueueSize:  1000,
		MaxAttempts:   10,
		BackoffBase:   time.Second,
		BackoffMax:    time.Minute,
		SendTimeout:   10 * time.Second,
		SessionTTL:    30 * time.Minute,
		MaxEventLog:   1000,
		SegmentRules:  DefaultSegmentRules(),
	}
}

// DefaultSegmentRules returns the built-in segmentation
func DefaultSegmentRules() []analytics.SegmentRule {
	return []analytics.SegmentRule{
		{Trait: "plan"},
		{
			Name: "sellers",
			Conditions: []analytics.Condition{
				{Field: "role", Operator: analytics.OperatorEquals, Value: "seller"},
			},
		},
		{
			Name: "high_value",
			Conditions: []analytics.Condition{
				{Field: "lifetime_value", Operator: analytics.OperatorGreater, Value: 1000},
			},
		},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxQueueSize < c.BatchSize {
		c.MaxQueueSize = c.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = def.BackoffMax
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.MaxEventLog <= 0 {
		c.MaxEventLog = def.MaxEventLog
	}
	if c.SegmentRules == nil {
		c.SegmentRules = def.SegmentRules
	}
}
