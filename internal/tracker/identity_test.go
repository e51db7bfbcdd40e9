package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Track(ctx context.Context, event *analytics.Event) {
	m.Called(ctx, event)
}

func (m *MockDispatcher) Identify(ctx context.Context, userID string, traits map[string]interface{}) {
	m.Called(ctx, userID, traits)
}

func (m *MockDispatcher) Page(ctx context.Context, view *analytics.PageView) {
	m.Called(ctx, view)
}

// failingStorage returns err from every call
type failingStorage struct {
	err error
}

func (s failingStorage) Get(context.Context, string) (string, error) { return "", s.err }
func (s failingStorage) Set(context.Context, string, string, time.Duration) error {
	return s.err
}
func (s failingStorage) Delete(context.Context, string) error { return s.err }

var sessionIDPattern = regexp.MustCompile(`^\d{13}-[0-9a-z]{9}$`)

func TestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Session id is created and persisted", func(t *testing.T) {
		storage := NewMemoryStorage()
		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))

		assert.Regexp(t, sessionIDPattern, tr.SessionID())
		stored, err := storage.Get(ctx, SessionKey)
		require.NoError(t, err)
		assert.Equal(t, tr.SessionID(), stored)
	})

	t.Run("Stored session id is reused", func(t *testing.T) {
		storage := NewMemoryStorage()
		require.NoError(t, storage.Set(ctx, SessionKey, "1700000000000-abcdefghi", time.Minute))

		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))
		assert.Equal(t, "1700000000000-abcdefghi", tr.SessionID())
	})

	t.Run("Namespace prefixes storage keys", func(t *testing.T) {
		storage := NewMemoryStorage()
		cfg := testConfig()
		cfg.Namespace = "device-7"
		tr := newTestTracker(t, cfg, &fakeTransport{}, WithStorage(storage))

		stored, err := storage.Get(ctx, "device-7:"+SessionKey)
		require.NoError(t, err)
		assert.Equal(t, tr.SessionID(), stored)

		_, err = storage.Get(ctx, SessionKey)
		assert.ErrorIs(t, err, analytics.ErrNotFound)
	})

	t.Run("Storage failures do not stop tracking", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(failingStorage{err: errors.New("disk full")}))

		assert.NotEmpty(t, tr.SessionID())
		assert.Nil(t, tr.UserProfile())
		tr.Track(ctx, "a", nil)
		assert.Equal(t, 1, tr.QueueLen())
	})
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()

	t.Run("Plan trait derives a segment", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})

		tr.Identify(ctx, "u1", map[string]interface{}{"plan": "premium"})

		profile := tr.UserProfile()
		require.NotNil(t, profile)
		assert.Equal(t, "u1", profile.UserID)
		assert.Contains(t, profile.Segments, "premium_users")
	})

	t.Run("Default segment rules", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})

		profile := tr.Identify(ctx, "u2", map[string]interface{}{
			"role":           "seller",
			"lifetime_value": 2500.0,
		})
		assert.Equal(t, []string{"high_value", "sellers"}, profile.Segments)

		profile = tr.Identify(ctx, "u3", map[string]interface{}{"role": "buyer", "lifetime_value": 10})
		assert.Empty(t, profile.Segments)
	})

	t.Run("Traits merge for the same user", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})

		first := tr.Identify(ctx, "u1", map[string]interface{}{"plan": "basic", "country": "KE"})
		second := tr.Identify(ctx, "u1", map[string]interface{}{"plan": "pro"})

		assert.Equal(t, "KE", second.Traits["country"])
		assert.Equal(t, []string{"pro_users"}, second.Segments)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
	})

	t.Run("Events carry the identified user", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})
		tr.Identify(ctx, "u9", nil)

		assert.Equal(t, "u9", tr.Track(ctx, "a", nil).UserID)
	})

	t.Run("Profile survives a new tracker on the same storage", func(t *testing.T) {
		storage := NewMemoryStorage()
		first := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))
		first.Identify(ctx, "u1", map[string]interface{}{"plan": "premium"})

		raw, err := storage.Get(ctx, ProfileKey)
		require.NoError(t, err)
		var persisted analytics.UserProfile
		require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
		assert.Equal(t, "u1", persisted.UserID)

		second := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))
		profile := second.UserProfile()
		require.NotNil(t, profile)
		assert.Equal(t, []string{"premium_users"}, profile.Segments)
		assert.Equal(t, "u1", second.Track(ctx, "a", nil).UserID)
	})

	t.Run("Corrupt stored profile is ignored", func(t *testing.T) {
		storage := NewMemoryStorage()
		require.NoError(t, storage.Set(ctx, ProfileKey, "{not json", 0))

		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))
		assert.Nil(t, tr.UserProfile())
	})

	t.Run("Returned profile is a copy", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})
		profile := tr.Identify(ctx, "u1", map[string]interface{}{"plan": "premium"})
		profile.Traits["plan"] = "tampered"

		assert.Equal(t, "premium", tr.UserProfile().Traits["plan"])
	})

	t.Run("Reset forgets the user and rotates the session", func(t *testing.T) {
		storage := NewMemoryStorage()
		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithStorage(storage))
		tr.Identify(ctx, "u1", nil)
		before := tr.SessionID()

		require.NoError(t, tr.Reset(ctx))

		assert.Nil(t, tr.UserProfile())
		assert.NotEqual(t, before, tr.SessionID())
		_, err := storage.Get(ctx, ProfileKey)
		assert.ErrorIs(t, err, analytics.ErrNotFound)
		stored, err := storage.Get(ctx, SessionKey)
		require.NoError(t, err)
		assert.Equal(t, tr.SessionID(), stored)
	})

	t.Run("Identify and track are forwarded to providers", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		dispatcher.On("Identify", mock.Anything, "u1", mock.Anything).Return().Once()
		dispatcher.On("Track", mock.Anything, mock.MatchedBy(func(e *analytics.Event) bool {
			return e.Name == "purchase"
		})).Return().Once()
		dispatcher.On("Track", mock.Anything, mock.MatchedBy(func(e *analytics.Event) bool {
			return e.Name == analytics.EventGoalCompleted
		})).Return().Once()

		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithDispatcher(dispatcher))
		require.NoError(t, tr.DefineGoal(analytics.Goal{
			ID:         "g1",
			Conditions: []analytics.Condition{{Field: "name", Operator: analytics.OperatorEquals, Value: "purchase"}},
		}))

		tr.Identify(ctx, "u1", map[string]interface{}{"plan": "premium"})
		tr.Track(ctx, "purchase", nil)

		dispatcher.AssertExpectations(t)
	})
}

func TestPageViews(t *testing.T) {
	ctx := context.Background()

	t.Run("Previous view gets its duration", func(t *testing.T) {
		var mu sync.Mutex
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		advance := func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}

		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithClock(clock))

		tr.TrackPageView(ctx, "/", "Home", "")
		advance(42 * time.Second)
		tr.TrackPageView(ctx, "/listings", "Listings", "/")

		views := tr.PageViews()
		require.Len(t, views, 2)
		require.NotNil(t, views[0].Duration)
		assert.Equal(t, 42*time.Second, *views[0].Duration)
		assert.Nil(t, views[1].Duration)
	})

	t.Run("Page view is tracked as a navigation event", func(t *testing.T) {
		tr := newTestTracker(t, testConfig(), &fakeTransport{})

		tr.TrackPageView(ctx, "/listings/42", "Listing", "https://example.com")

		events := tr.Events()
		require.Len(t, events, 1)
		assert.Equal(t, analytics.EventPageView, events[0].Name)
		assert.Equal(t, analytics.CategoryNavigation, events[0].Category)
		assert.Equal(t, "/listings/42", events[0].Metadata["path"])
	})

	t.Run("Page views reach providers", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		dispatcher.On("Page", mock.Anything, mock.MatchedBy(func(v *analytics.PageView) bool {
			return v.Path == "/about"
		})).Return().Once()
		dispatcher.On("Track", mock.Anything, mock.Anything).Return().Once()

		tr := newTestTracker(t, testConfig(), &fakeTransport{}, WithDispatcher(dispatcher))
		tr.TrackPageView(ctx, "/about", "About", "")

		dispatcher.AssertExpectations(t)
	})
}
