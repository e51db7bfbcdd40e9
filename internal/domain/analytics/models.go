package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known event names emitted by the pipeline itself
const (
	EventPageView            = "page_view"
	EventGoalCompleted       = "goal_completed"
	EventFunnelStepCompleted = "funnel_step_completed"
)

// Event categories
const (
	CategoryCustom     = "custom"
	CategoryNavigation = "navigation"
	CategoryConversion = "conversion"
	CategoryFunnel     = "funnel"
)

// Event represents a single tracking event. Events are immutable once queued.
type Event struct {
	ID        string                 `json:"id" bson:"id"`
	Name      string                 `json:"name" bson:"name"`
	Category  string                 `json:"category" bson:"category"`
	Action    string                 `json:"action,omitempty" bson:"action,omitempty"`
	Label     string                 `json:"label,omitempty" bson:"label,omitempty"`
	Value     *float64               `json:"value,omitempty" bson:"value,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	SessionID string                 `json:"sessionId" bson:"session_id"`
	UserID    string                 `json:"userId,omitempty" bson:"user_id,omitempty"`

	// meta marks events generated by goal/funnel evaluation
	meta bool
}

// IsMeta reports whether the event was emitted by the evaluators rather than a caller
func (e *Event) IsMeta() bool {
	return e.meta
}

// MarkMeta flags the event as evaluator output
func (e *Event) MarkMeta() {
	e.meta = true
}

// PageView represents a visit to a page. Duration is filled in when the next page view starts.
type PageView struct {
	Path      string         `json:"path"`
	Title     string         `json:"title"`
	Referrer  string         `json:"referrer"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

// GoalType identifies what a goal is evaluated against
type GoalType string

const (
	GoalTypeEvent    GoalType = "event"
	GoalTypePageView GoalType = "pageview"
)

// Operator is a comparison operator used in conditions
type Operator string

const (
	OperatorEquals    Operator = "equals"
	OperatorNotEquals Operator = "not_equals"
	OperatorContains  Operator = "contains"
	OperatorGreater   Operator = "greater"
	OperatorLess      Operator = "less"
	OperatorRegex     Operator = "regex"
	OperatorIn        Operator = "in"
)

// Condition compares a named field of a record against a value
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Goal is a conversion goal. It completes at most once.
type Goal struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Type        GoalType         `json:"type" yaml:"type"`
	Conditions  []Condition      `json:"conditions" yaml:"conditions"`
	Value       *decimal.Decimal `json:"value,omitempty" yaml:"-"`
	IsCompleted bool             `json:"isCompleted" yaml:"-"`
	CompletedAt *time.Time       `json:"completedAt,omitempty" yaml:"-"`
}

// FunnelStep is one step of a funnel, matched by event name
type FunnelStep struct {
	Name        string     `json:"name" yaml:"name"`
	Event       string     `json:"event" yaml:"event"`
	Completed   bool       `json:"completed" yaml:"-"`
	CompletedAt *time.Time `json:"completedAt,omitempty" yaml:"-"`
}

// Funnel is a named sequence of steps
type Funnel struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name,omitempty" yaml:"name"`
	Steps          []FunnelStep  `json:"steps" yaml:"steps"`
	Strict         bool          `json:"strict,omitempty" yaml:"strict"`
	ConversionRate float64       `json:"conversionRate" yaml:"-"`
	TotalTime      time.Duration `json:"totalTime" yaml:"-"`
	StartedAt      *time.Time    `json:"startedAt,omitempty" yaml:"-"`
}

// CompletedSteps returns the number of completed steps
func (f *Funnel) CompletedSteps() int {
	n := 0
	for _, s := range f.Steps {
		if s.Completed {
			n++
		}
	}
	return n
}

// HeatmapPoint is a single click or hover sample keyed by element selector
type HeatmapPoint struct {
	Element     string  `json:"element" ch:"element"`
	X           float64 `json:"x" ch:"x"`
	Y           float64 `json:"y" ch:"y"`
	Clicks      uint32  `json:"clicks" ch:"clicks"`
	Hovers      uint32  `json:"hovers" ch:"hovers"`
	ScrollDepth float64 `json:"scrollDepth" ch:"scroll_depth"`
}

// HeatmapBatch is the wire body of POST /heatmap
type HeatmapBatch struct {
	Data []HeatmapPoint `json:"data" binding:"required"`
	Page string         `json:"page"`
}

// EventBatch is the wire body of POST /events
type EventBatch struct {
	Events []*Event `json:"events" binding:"required"`
}

// RecordingEventType is the kind of captured interaction
type RecordingEventType string

const (
	RecordingClick      RecordingEventType = "click"
	RecordingScroll     RecordingEventType = "scroll"
	RecordingInput      RecordingEventType = "input"
	RecordingNavigation RecordingEventType = "navigation"
)

// RecordingEvent is one entry of a session recording
type RecordingEvent struct {
	Type      RecordingEventType     `json:"type" bson:"type"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Data      map[string]interface{} `json:"data" bson:"data"`
}

// SessionRecording is a timestamped interaction log for replay
type SessionRecording struct {
	SessionID string                 `json:"sessionId" bson:"session_id" binding:"required"`
	UserID    string                 `json:"userId,omitempty" bson:"user_id,omitempty"`
	StartTime time.Time              `json:"startTime" bson:"start_time"`
	EndTime   *time.Time             `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Events    []RecordingEvent       `json:"events" bson:"events"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// UserProfile is the persisted identity of the current user
type UserProfile struct {
	UserID    string                 `json:"userId"`
	Traits    map[string]interface{} `json:"traits"`
	Segments  []string               `json:"segments"`
	CreatedAt time.Time              `json:"createdAt"`
	LastSeen  time.Time              `json:"lastSeen"`
}

// Clone returns a deep-enough copy for handing out to callers
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Traits = make(map[string]interface{}, len(p.Traits))
	for k, v := range p.Traits {
		cp.Traits[k] = v
	}
	cp.Segments = append([]string(nil), p.Segments...)
	return &cp
}

// SegmentRule assigns a segment when all conditions match the profile traits.
// A rule with Trait set instead derives the segment name from the trait value ("<value>_users").
type SegmentRule struct {
	Name       string      `json:"name" yaml:"name"`
	Trait      string      `json:"trait,omitempty" yaml:"trait"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions"`
}

// HeatmapCell is an aggregated heatmap row returned by the collector
type HeatmapCell struct {
	Element     string  `json:"element" ch:"element"`
	Clicks      uint64  `json:"clicks" ch:"clicks"`
	Hovers      uint64  `json:"hovers" ch:"hovers"`
	AvgX        float64 `json:"avgX" ch:"avg_x"`
	AvgY        float64 `json:"avgY" ch:"avg_y"`
	ScrollDepth float64 `json:"scrollDepth" ch:"scroll_depth"`
}

// EventFilter represents filters for querying stored events
type EventFilter struct {
	SessionID string
	UserID    string
	Name      string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
