package tracker

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

type goalEntry struct {
	goal    *analytics.Goal
	matcher *analytics.Matcher
}

// DefineGoal registers a goal, replacing any goal with the same id.
// Conditions are compiled here so a bad pattern fails at definition time.
func (t *Tracker) DefineGoal(goal analytics.Goal) error {
	if goal.ID == "" {
		return fmt.Errorf("%w: id is required", analytics.ErrInvalidGoal)
	}
	if goal.Type == "" {
		goal.Type = analytics.GoalTypeEvent
	}
	if goal.Type != analytics.GoalTypeEvent && goal.Type != analytics.GoalTypePageView {
		return fmt.Errorf("%w: unsupported type %q", analytics.ErrInvalidGoal, goal.Type)
	}

	matcher, err := analytics.CompileConditions(goal.Conditions)
	if err != nil {
		return fmt.Errorf("goal %s: %w", goal.ID, err)
	}

	goal.Conditions = append([]analytics.Condition(nil), goal.Conditions...)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.goals[goal.ID]; !exists {
		t.goalOrder = append(t.goalOrder, goal.ID)
	}
	t.goals[goal.ID] = &goalEntry{goal: &goal, matcher: matcher}
	return nil
}

// Goal returns a copy of a defined goal
func (t *Tracker) Goal(id string) (analytics.Goal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.goals[id]
	if !ok {
		return analytics.Goal{}, fmt.Errorf("%w: %s", analytics.ErrGoalNotFound, id)
	}
	return *entry.goal, nil
}

// Goals returns copies of all goals in definition order
func (t *Tracker) Goals() []analytics.Goal {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]analytics.Goal, 0, len(t.goalOrder))
	for _, id := range t.goalOrder {
		out = append(out, *t.goals[id].goal)
	}
	return out
}

// evaluateGoalsLocked completes every open goal of the given type matched by record
// and returns the goal_completed events it emitted
func (t *Tracker) evaluateGoalsLocked(record analytics.Record, goalType analytics.GoalType) []*analytics.Event {
	var emitted []*analytics.Event

	for _, id := range t.goalOrder {
		entry := t.goals[id]
		goal := entry.goal
		if goal.IsCompleted || goal.Type != goalType {
			continue
		}
		if !entry.matcher.Match(record) {
			continue
		}

		now := t.now()
		goal.IsCompleted = true
		goal.CompletedAt = &now
		t.metrics.GoalsCompleted.Inc()

		meta := t.newEventLocked(analytics.EventGoalCompleted, map[string]interface{}{
			"goalId":   goal.ID,
			"goalName": goal.Name,
		})
		meta.Category = analytics.CategoryConversion
		meta.Label = goal.Name
		if goal.Value != nil {
			v := goal.Value.InexactFloat64()
			meta.Value = &v
			meta.Metadata["value"] = goal.Value.String()
		}
		meta.MarkMeta()
		t.appendLocked(meta)
		emitted = append(emitted, meta)

		t.logger.Info("Goal completed",
			zap.String("goal_id", goal.ID),
			zap.String("session_id", t.sessionID),
		)
	}

	return emitted
}

// CompletedGoals returns the ids of completed goals, sorted
func (t *Tracker) CompletedGoals() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, entry := range t.goals {
		if entry.goal.IsCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
