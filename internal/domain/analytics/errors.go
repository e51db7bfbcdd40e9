package analytics

import "errors"

var (
	// ErrEventRequired is returned when event is nil
	ErrEventRequired = errors.New("event is required")

	// ErrGoalNotFound is returned when a goal id is unknown
	ErrGoalNotFound = errors.New("goal not found")

	// ErrFunnelNotFound is returned when a funnel id is unknown
	ErrFunnelNotFound = errors.New("funnel not found")

	// ErrInvalidGoal is returned when a goal definition is unusable
	ErrInvalidGoal = errors.New("invalid goal definition")

	// ErrInvalidFunnel is returned when a funnel definition is unusable
	ErrInvalidFunnel = errors.New("invalid funnel definition")

	// ErrInvalidCondition is returned when a condition cannot be compiled
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrUnknownOperator is returned for operators outside the supported set
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrRecordingNotActive is returned when stopping a recorder that is idle
	ErrRecordingNotActive = errors.New("no active recording")

	// ErrNotFound is returned by storage and repositories for missing keys
	ErrNotFound = errors.New("not found")

	// ErrTrackerClosed is returned when flushing a closed tracker
	ErrTrackerClosed = errors.New("tracker closed")

	// ErrDeliveryFailed is returned when the collector rejects a request
	ErrDeliveryFailed = errors.New("delivery failed")
)
