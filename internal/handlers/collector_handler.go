// Package handlers implements the collector HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/logging"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBatchSize     = 500
)

// ErrorResponse is the error object inside the {"success":false,"error":...} envelope
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Forwarder relays accepted events to downstream providers
type Forwarder interface {
	Track(ctx context.Context, event *analytics.Event)
	Page(ctx context.Context, view *analytics.PageView)
}

// DefinitionsSource serves the current goal and funnel definitions
type DefinitionsSource interface {
	Get() *config.Definitions
}

// CollectorHandler ingests tracker payloads and serves stored data back
type CollectorHandler struct {
	events      analytics.EventRepository
	heatmaps    analytics.HeatmapRepository
	recordings  analytics.RecordingRepository
	forwarder   Forwarder
	definitions DefinitionsSource
	logger      *zap.Logger
	ingested    *prometheus.CounterVec
}

// CollectorDeps bundles the handler dependencies. Forwarder and Definitions are optional.
type CollectorDeps struct {
	Events      analytics.EventRepository
	Heatmaps    analytics.HeatmapRepository
	Recordings  analytics.RecordingRepository
	Forwarder   Forwarder
	Definitions DefinitionsSource
	Logger      *zap.Logger
	Registerer  prometheus.Registerer
}

// NewCollectorHandler creates a collector handler
func NewCollectorHandler(deps CollectorDeps) *CollectorHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &CollectorHandler{
		events:      deps.Events,
		heatmaps:    deps.Heatmaps,
		recordings:  deps.Recordings,
		forwarder:   deps.Forwarder,
		definitions: deps.Definitions,
		logger:      logger,
		ingested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "collector_ingested_total",
			Help: "Items accepted by the collector by kind",
		}, []string{"kind"}),
	}
}

// IngestEvents handles POST /events
func (h *CollectorHandler) IngestEvents(c *gin.Context) {
	var batch analytics.EventBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, "INVALID_REQUEST_BODY", "Invalid request body", err)
		return
	}
	if len(batch.Events) > maxBatchSize {
		badRequest(c, "BATCH_TOO_LARGE", "Too many events in batch",
			fmt.Errorf("at most %d events per request", maxBatchSize))
		return
	}
	for i, e := range batch.Events {
		if err := validateEvent(e); err != nil {
			badRequest(c, "INVALID_EVENT", "Invalid event", fmt.Errorf("event %d: %w", i, err))
			return
		}
	}

	ctx := c.Request.Context()
	if err := h.events.StoreBatch(ctx, batch.Events); err != nil {
		h.serverError(c, "STORE_EVENTS_FAILED", "Failed to store events", err)
		return
	}
	h.ingested.WithLabelValues("event").Add(float64(len(batch.Events)))

	if h.forwarder != nil {
		for _, e := range batch.Events {
			if e.Name == analytics.EventPageView {
				h.forwarder.Page(ctx, pageViewFrom(e))
				continue
			}
			h.forwarder.Track(ctx, e)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"accepted": len(batch.Events),
	})
}

// IngestHeatmap handles POST /heatmap
func (h *CollectorHandler) IngestHeatmap(c *gin.Context) {
	var batch analytics.HeatmapBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, "INVALID_REQUEST_BODY", "Invalid request body", err)
		return
	}
	if batch.Page == "" {
		badRequest(c, "INVALID_PAGE", "Page is required", nil)
		return
	}

	if err := h.heatmaps.InsertBatch(c.Request.Context(), batch.Page, batch.Data); err != nil {
		h.serverError(c, "STORE_HEATMAP_FAILED", "Failed to store heatmap data", err)
		return
	}
	h.ingested.WithLabelValues("heatmap_point").Add(float64(len(batch.Data)))

	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"accepted": len(batch.Data),
	})
}

// IngestRecording handles POST /recording
func (h *CollectorHandler) IngestRecording(c *gin.Context) {
	var recording analytics.SessionRecording
	if err := c.ShouldBindJSON(&recording); err != nil {
		badRequest(c, "INVALID_REQUEST_BODY", "Invalid request body", err)
		return
	}

	if err := h.recordings.Save(c.Request.Context(), &recording); err != nil {
		h.serverError(c, "STORE_RECORDING_FAILED", "Failed to store recording", err)
		return
	}
	h.ingested.WithLabelValues("recording").Inc()

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"sessionId": recording.SessionID,
		"events":    len(recording.Events),
	})
}

// ListEvents handles GET /v1/events
func (h *CollectorHandler) ListEvents(c *gin.Context) {
	filter, ok := parseEventFilter(c)
	if !ok {
		return
	}

	events, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		h.serverError(c, "LIST_EVENTS_FAILED", "Failed to list events", err)
		return
	}
	if events == nil {
		events = []*analytics.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    events,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// EventStats handles GET /v1/events/stats
func (h *CollectorHandler) EventStats(c *gin.Context) {
	filter, ok := parseEventFilter(c)
	if !ok {
		return
	}

	counts, err := h.events.CountByName(c.Request.Context(), filter)
	if err != nil {
		h.serverError(c, "EVENT_STATS_FAILED", "Failed to count events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    counts,
	})
}

// GetRecording handles GET /v1/recordings/:sessionId
func (h *CollectorHandler) GetRecording(c *gin.Context) {
	sessionID := c.Param("sessionId")

	recording, err := h.recordings.GetBySession(c.Request.Context(), sessionID)
	if errors.Is(err, analytics.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, ErrorResponse{
			Code:    "RECORDING_NOT_FOUND",
			Message: "Recording not found",
			Details: sessionID,
		})
		return
	}
	if err != nil {
		h.serverError(c, "GET_RECORDING_FAILED", "Failed to load recording", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    recording,
	})
}

// GetHeatmap handles GET /v1/heatmap
func (h *CollectorHandler) GetHeatmap(c *gin.Context) {
	page := c.Query("page")
	if page == "" {
		badRequest(c, "INVALID_PAGE", "page query parameter is required", nil)
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	cells, err := h.heatmaps.Aggregate(c.Request.Context(), page, limit)
	if err != nil {
		h.serverError(c, "GET_HEATMAP_FAILED", "Failed to aggregate heatmap", err)
		return
	}
	if cells == nil {
		cells = []analytics.HeatmapCell{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"page":    page,
		"data":    cells,
	})
}

// GetDefinitions handles GET /v1/definitions
func (h *CollectorHandler) GetDefinitions(c *gin.Context) {
	defs := &config.Definitions{}
	if h.definitions != nil {
		defs = h.definitions.Get()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    defs,
	})
}

func validateEvent(e *analytics.Event) error {
	switch {
	case e == nil:
		return analytics.ErrEventRequired
	case e.ID == "":
		return errors.New("id is required")
	case e.Name == "":
		return errors.New("name is required")
	case e.SessionID == "":
		return errors.New("sessionId is required")
	case e.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	if e.Category == "" {
		e.Category = analytics.CategoryCustom
	}
	return nil
}

func pageViewFrom(e *analytics.Event) *analytics.PageView {
	view := &analytics.PageView{
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		UserID:    e.UserID,
	}
	view.Path, _ = e.Metadata["path"].(string)
	view.Title, _ = e.Metadata["title"].(string)
	view.Referrer, _ = e.Metadata["referrer"].(string)
	if view.Path == "" {
		view.Path = e.Label
	}
	return view
}

func parseEventFilter(c *gin.Context) (analytics.EventFilter, bool) {
	filter := analytics.EventFilter{
		SessionID: c.Query("session_id"),
		UserID:    c.Query("user_id"),
		Name:      c.Query("name"),
	}

	for _, param := range []struct {
		name string
		dst  **time.Time
	}{
		{"start_time", &filter.StartTime},
		{"end_time", &filter.EndTime},
	} {
		raw := c.Query(param.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "INVALID_"+strings.ToUpper(param.name), "Invalid "+param.name,
				fmt.Errorf("%s must be in RFC 3339 format", param.name))
			return filter, false
		}
		*param.dst = &ts
	}

	limit, ok := parseLimit(c)
	if !ok {
		return filter, false
	}
	filter.Limit = limit

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			badRequest(c, "INVALID_OFFSET", "Invalid offset", errors.New("offset must be a non-negative integer"))
			return filter, false
		}
		filter.Offset = offset
	}
	return filter, true
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		badRequest(c, "INVALID_LIMIT", "Invalid limit", errors.New("limit must be a positive integer"))
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

func badRequest(c *gin.Context, code, message string, err error) {
	resp := ErrorResponse{Code: code, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	abortWithError(c, http.StatusBadRequest, resp)
}

func (h *CollectorHandler) serverError(c *gin.Context, code, message string, err error) {
	logging.FromContext(c.Request.Context(), h.logger).Error(message,
		zap.String("code", code),
		zap.Error(err),
	)
	abortWithError(c, http.StatusInternalServerError, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func abortWithError(c *gin.Context, status int, resp ErrorResponse) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   resp,
	})
}
