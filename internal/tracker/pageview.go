package tracker

import (
	"context"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// TrackPageView records a page view. The previous page view's duration is closed off,
// a page_view event is tracked and pageview goals are evaluated against the view.
func (t *Tracker) TrackPageView(ctx context.Context, path, title, referrer string) *analytics.PageView {
	t.mu.Lock()
	now := t.now()

	if n := len(t.pageViews); n > 0 {
		prev := t.pageViews[n-1]
		if prev.Duration == nil {
			d := now.Sub(prev.Timestamp)
			prev.Duration = &d
		}
	}

	view := &analytics.PageView{
		Path:      path,
		Title:     title,
		Referrer:  referrer,
		Timestamp: now,
		SessionID: t.sessionID,
		UserID:    t.userID,
	}
	t.pageViews = append(t.pageViews, view)

	event := t.newEventLocked(analytics.EventPageView, map[string]interface{}{
		"path":     path,
		"title":    title,
		"referrer": referrer,
	})
	event.Category = analytics.CategoryNavigation
	event.Label = path
	emitted := t.ingestLocked(event, view)

	snapshot := *view
	t.mu.Unlock()

	if t.dispatcher != nil {
		t.dispatcher.Page(ctx, &snapshot)
	}
	t.forward(ctx, event, emitted)
	return &snapshot
}

// PageViews returns copies of the recorded page views in visit order
func (t *Tracker) PageViews() []analytics.PageView {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]analytics.PageView, len(t.pageViews))
	for i, pv := range t.pageViews {
		out[i] = *pv
	}
	return out
}
