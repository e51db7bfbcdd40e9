package tracker

import (
	"fmt"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// DefineFunnel registers a funnel, replacing any funnel with the same id.
// Completion state in the definition is reset.
func (t *Tracker) DefineFunnel(funnel analytics.Funnel) error {
	if funnel.ID == "" {
		return fmt.Errorf("%w: id is required", analytics.ErrInvalidFunnel)
	}
	if len(funnel.Steps) == 0 {
		return fmt.Errorf("%w: funnel %s must have at least one step", analytics.ErrInvalidFunnel, funnel.ID)
	}

	steps := make([]analytics.FunnelStep, len(funnel.Steps))
	for i, step := range funnel.Steps {
		if step.Event == "" {
			return fmt.Errorf("%w: funnel %s step %d: event is required", analytics.ErrInvalidFunnel, funnel.ID, i+1)
		}
		if step.Name == "" {
			step.Name = step.Event
		}
		steps[i] = analytics.FunnelStep{Name: step.Name, Event: step.Event}
	}

	f := &analytics.Funnel{
		ID:     funnel.ID,
		Name:   funnel.Name,
		Steps:  steps,
		Strict: funnel.Strict,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.funnels[f.ID]; !exists {
		t.fnlOrder = append(t.fnlOrder, f.ID)
	}
	t.funnels[f.ID] = f
	return nil
}

// Funnel returns a copy of a defined funnel
func (t *Tracker) Funnel(id string) (analytics.Funnel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.funnels[id]
	if !ok {
		return analytics.Funnel{}, fmt.Errorf("%w: %s", analytics.ErrFunnelNotFound, id)
	}
	return copyFunnel(f), nil
}

// Funnels returns copies of all funnels in definition order
func (t *Tracker) Funnels() []analytics.Funnel {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]analytics.Funnel, 0, len(t.fnlOrder))
	for _, id := range t.fnlOrder {
		out = append(out, copyFunnel(t.funnels[id]))
	}
	return out
}

func copyFunnel(f *analytics.Funnel) analytics.Funnel {
	cp := *f
	cp.Steps = append([]analytics.FunnelStep(nil), f.Steps...)
	return cp
}

// matchStep returns the index of the step the event completes, or -1.
// Loose funnels take the first incomplete step with a matching event name;
// strict funnels only consider the first incomplete step.
func matchStep(f *analytics.Funnel, name string) int {
	for i, step := range f.Steps {
		if step.Completed {
			continue
		}
		if step.Event == name {
			return i
		}
		if f.Strict {
			return -1
		}
	}
	return -1
}

func (t *Tracker) evaluateFunnelsLocked(event *analytics.Event) []*analytics.Event {
	var emitted []*analytics.Event

	for _, id := range t.fnlOrder {
		f := t.funnels[id]
		idx := matchStep(f, event.Name)
		if idx < 0 {
			continue
		}

		now := t.now()
		f.Steps[idx].Completed = true
		f.Steps[idx].CompletedAt = &now
		if f.StartedAt == nil {
			f.StartedAt = &now
		}

		completed := f.CompletedSteps()
		f.ConversionRate = float64(completed) / float64(len(f.Steps)) * 100
		if completed == len(f.Steps) {
			f.TotalTime = now.Sub(*f.StartedAt)
		}
		t.metrics.FunnelSteps.Inc()

		meta := t.newEventLocked(analytics.EventFunnelStepCompleted, map[string]interface{}{
			"funnelId":       f.ID,
			"step":           idx,
			"stepName":       f.Steps[idx].Name,
			"conversionRate": f.ConversionRate,
		})
		meta.Category = analytics.CategoryFunnel
		meta.Label = f.Steps[idx].Name
		meta.MarkMeta()
		t.appendLocked(meta)
		emitted = append(emitted, meta)
	}

	return emitted
}
