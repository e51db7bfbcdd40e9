package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) StoreBatch(ctx context.Context, events []*analytics.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *MockEventRepository) List(ctx context.Context, filter analytics.EventFilter) ([]*analytics.Event, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*analytics.Event), args.Error(1)
}

func (m *MockEventRepository) CountByName(ctx context.Context, filter analytics.EventFilter) (map[string]int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type MockHeatmapRepository struct {
	mock.Mock
}

func (m *MockHeatmapRepository) InsertBatch(ctx context.Context, page string, points []analytics.HeatmapPoint) error {
	args := m.Called(ctx, page, points)
	return args.Error(0)
}

func (m *MockHeatmapRepository) Aggregate(ctx context.Context, page string, limit int) ([]analytics.HeatmapCell, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.HeatmapCell), args.Error(1)
}

type MockRecordingRepository struct {
	mock.Mock
}

func (m *MockRecordingRepository) Save(ctx context.Context, recording *analytics.SessionRecording) error {
	args := m.Called(ctx, recording)
	return args.Error(0)
}

func (m *MockRecordingRepository) GetBySession(ctx context.Context, sessionID string) (*analytics.SessionRecording, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.SessionRecording), args.Error(1)
}

type recordingForwarder struct {
	tracked []*analytics.Event
	pages   []*analytics.PageView
}

func (f *recordingForwarder) Track(_ context.Context, event *analytics.Event) {
	f.tracked = append(f.tracked, event)
}

func (f *recordingForwarder) Page(_ context.Context, view *analytics.PageView) {
	f.pages = append(f.pages, view)
}

type fixture struct {
	events     *MockEventRepository
	heatmaps   *MockHeatmapRepository
	recordings *MockRecordingRepository
	forwarder  *recordingForwarder
	router     *gin.Engine
}

func setupCollector(t *testing.T, defs DefinitionsSource) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		events:     new(MockEventRepository),
		heatmaps:   new(MockHeatmapRepository),
		recordings: new(MockRecordingRepository),
		forwarder:  &recordingForwarder{},
	}
	h := NewCollectorHandler(CollectorDeps{
		Events:      f.events,
		Heatmaps:    f.heatmaps,
		Recordings:  f.recordings,
		Forwarder:   f.forwarder,
		Definitions: defs,
	})

	f.router = gin.New()
	f.router.POST("/events", h.IngestEvents)
	f.router.POST("/heatmap", h.IngestHeatmap)
	f.router.POST("/recording", h.IngestRecording)
	f.router.GET("/v1/events", h.ListEvents)
	f.router.GET("/v1/events/stats", h.EventStats)
	f.router.GET("/v1/recordings/:sessionId", h.GetRecording)
	f.router.GET("/v1/heatmap", h.GetHeatmap)
	f.router.GET("/v1/definitions", h.GetDefinitions)

	t.Cleanup(func() {
		f.events.AssertExpectations(t)
		f.heatmaps.AssertExpectations(t)
		f.recordings.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var envelope struct {
		Success *bool          `json:"success"`
		Error   *ErrorResponse `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Success, "body: %s", w.Body.String())
	assert.False(t, *envelope.Success)
	require.NotNil(t, envelope.Error, "body: %s", w.Body.String())
	return *envelope.Error
}

func TestIngestEvents(t *testing.T) {
	now := time.Now().UTC()

	t.Run("stores and forwards batch", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("StoreBatch", mock.Anything, mock.MatchedBy(func(events []*analytics.Event) bool {
			return len(events) == 2
		})).Return(nil)

		w := f.do(http.MethodPost, "/events", analytics.EventBatch{Events: []*analytics.Event{
			{ID: "e1", Name: "signup", Category: "custom", SessionID: "s1", Timestamp: now},
			{ID: "e2", Name: analytics.EventPageView, SessionID: "s1", Timestamp: now,
				Metadata: map[string]interface{}{"path": "/pricing", "title": "Pricing"}},
		}})

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"success":true,"accepted":2}`, w.Body.String())

		require.Len(t, f.forwarder.tracked, 1)
		assert.Equal(t, "signup", f.forwarder.tracked[0].Name)
		require.Len(t, f.forwarder.pages, 1)
		assert.Equal(t, "/pricing", f.forwarder.pages[0].Path)
		assert.Equal(t, "Pricing", f.forwarder.pages[0].Title)
		assert.Equal(t, "s1", f.forwarder.pages[0].SessionID)
	})

	t.Run("missing category defaults to custom", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("StoreBatch", mock.Anything, mock.MatchedBy(func(events []*analytics.Event) bool {
			return events[0].Category == analytics.CategoryCustom
		})).Return(nil)

		w := f.do(http.MethodPost, "/events", analytics.EventBatch{Events: []*analytics.Event{
			{ID: "e1", Name: "click", SessionID: "s1", Timestamp: now},
		}})
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/events", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST_BODY", decodeError(t, w).Code)
	})

	t.Run("event without id uses error envelope", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/events", `{"events":[{"name":"x"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"success":false,"error":{"code":"INVALID_EVENT","message":"Invalid event","details":"event 0: id is required"}}`,
			w.Body.String())
	})

	t.Run("missing events field", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/events", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("event without session", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/events", analytics.EventBatch{Events: []*analytics.Event{
			{ID: "e1", Name: "click", Timestamp: now},
		}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "INVALID_EVENT", resp.Code)
		assert.Contains(t, resp.Details, "sessionId")
	})

	t.Run("batch too large", func(t *testing.T) {
		f := setupCollector(t, nil)

		events := make([]*analytics.Event, maxBatchSize+1)
		for i := range events {
			events[i] = &analytics.Event{ID: "e", Name: "n", SessionID: "s", Timestamp: now}
		}
		w := f.do(http.MethodPost, "/events", analytics.EventBatch{Events: events})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BATCH_TOO_LARGE", decodeError(t, w).Code)
	})

	t.Run("store failure is not forwarded", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("StoreBatch", mock.Anything, mock.Anything).Return(errors.New("db down"))

		w := f.do(http.MethodPost, "/events", analytics.EventBatch{Events: []*analytics.Event{
			{ID: "e1", Name: "click", SessionID: "s1", Timestamp: now},
		}})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "STORE_EVENTS_FAILED", resp.Code)
		assert.Empty(t, resp.Details)
		assert.Empty(t, f.forwarder.tracked)
	})
}

func TestIngestHeatmap(t *testing.T) {
	t.Run("stores points", func(t *testing.T) {
		f := setupCollector(t, nil)
		points := []analytics.HeatmapPoint{{Element: "#buy", X: 1, Y: 2, Clicks: 1}}
		f.heatmaps.On("InsertBatch", mock.Anything, "/pricing", points).Return(nil)

		w := f.do(http.MethodPost, "/heatmap", analytics.HeatmapBatch{Page: "/pricing", Data: points})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"success":true,"accepted":1}`, w.Body.String())
	})

	t.Run("page required", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/heatmap", `{"data":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_PAGE", decodeError(t, w).Code)
	})

	t.Run("repository failure", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.heatmaps.On("InsertBatch", mock.Anything, "/", mock.Anything).Return(errors.New("boom"))

		w := f.do(http.MethodPost, "/heatmap", `{"page":"/","data":[{"element":"a"}]}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRecordings(t *testing.T) {
	t.Run("ingest", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.recordings.On("Save", mock.Anything, mock.MatchedBy(func(r *analytics.SessionRecording) bool {
			return r.SessionID == "s1" && len(r.Events) == 1
		})).Return(nil)

		w := f.do(http.MethodPost, "/recording", analytics.SessionRecording{
			SessionID: "s1",
			StartTime: time.Now(),
			Events:    []analytics.RecordingEvent{{Type: analytics.RecordingClick, Timestamp: time.Now()}},
		})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"success":true,"sessionId":"s1","events":1}`, w.Body.String())
	})

	t.Run("ingest requires session id", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodPost, "/recording", `{"events":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get existing", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.recordings.On("GetBySession", mock.Anything, "s1").
			Return(&analytics.SessionRecording{SessionID: "s1"}, nil)

		w := f.do(http.MethodGet, "/v1/recordings/s1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"sessionId":"s1"`)
	})

	t.Run("get missing", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.recordings.On("GetBySession", mock.Anything, "nope").Return(nil, analytics.ErrNotFound)

		w := f.do(http.MethodGet, "/v1/recordings/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"success":false,"error":{"code":"RECORDING_NOT_FOUND","message":"Recording not found","details":"nope"}}`,
			w.Body.String())
	})
}

func TestQueries(t *testing.T) {
	t.Run("list events with filter", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("List", mock.Anything, analytics.EventFilter{SessionID: "s1", Limit: 5}).
			Return([]*analytics.Event{{ID: "e1", Name: "click"}}, nil)

		w := f.do(http.MethodGet, "/v1/events?session_id=s1&limit=5", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Data  []analytics.Event `json:"data"`
			Limit int               `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "e1", body.Data[0].ID)
		assert.Equal(t, 5, body.Limit)
	})

	t.Run("list events empty result", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("List", mock.Anything, analytics.EventFilter{Limit: defaultListLimit}).Return(nil, nil)

		w := f.do(http.MethodGet, "/v1/events", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})

	t.Run("limit is capped", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("List", mock.Anything, analytics.EventFilter{Limit: maxListLimit}).
			Return([]*analytics.Event{}, nil)

		w := f.do(http.MethodGet, "/v1/events?limit=50000", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		f := setupCollector(t, nil)

		tests := []struct {
			query string
			code  string
		}{
			{"limit=0", "INVALID_LIMIT"},
			{"limit=abc", "INVALID_LIMIT"},
			{"offset=-1", "INVALID_OFFSET"},
			{"start_time=yesterday", "INVALID_START_TIME"},
			{"end_time=2024-13-01", "INVALID_END_TIME"},
		}
		for _, tt := range tests {
			t.Run(tt.query, func(t *testing.T) {
				w := f.do(http.MethodGet, "/v1/events?"+tt.query, nil)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tt.code, decodeError(t, w).Code)
			})
		}
	})

	t.Run("event stats", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.events.On("CountByName", mock.Anything, mock.Anything).
			Return(map[string]int64{"click": 3}, nil)

		w := f.do(http.MethodGet, "/v1/events/stats?user_id=u1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"data":{"click":3}}`, w.Body.String())
	})

	t.Run("heatmap aggregate", func(t *testing.T) {
		f := setupCollector(t, nil)
		f.heatmaps.On("Aggregate", mock.Anything, "/pricing", defaultListLimit).
			Return([]analytics.HeatmapCell{{Element: "#buy", Clicks: 4}}, nil)

		w := f.do(http.MethodGet, "/v1/heatmap?page=/pricing", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"element":"#buy"`)
	})

	t.Run("heatmap requires page", func(t *testing.T) {
		f := setupCollector(t, nil)

		w := f.do(http.MethodGet, "/v1/heatmap", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("definitions", func(t *testing.T) {
		value := decimal.RequireFromString("49.99")
		f := setupCollector(t, config.StaticDefinitions(&config.Definitions{
			Goals: []analytics.Goal{{ID: "purchase", Name: "Purchase", Type: analytics.GoalTypeEvent, Value: &value}},
		}))

		w := f.do(http.MethodGet, "/v1/definitions", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Data config.Definitions `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Data.Goals, 1)
		assert.Equal(t, "purchase", body.Data.Goals[0].ID)
		require.NotNil(t, body.Data.Goals[0].Value)
		assert.True(t, value.Equal(*body.Data.Goals[0].Value))
	})
}
