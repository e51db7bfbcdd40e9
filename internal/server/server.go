// Package server wires the collector routes and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/ratelimit"
	"github.com/victoralfred/marketpulse/internal/handlers"
	"github.com/victoralfred/marketpulse/internal/logging"
	"github.com/victoralfred/marketpulse/internal/middleware"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker func(ctx context.Context) error

// Dependencies holds what the routes need
type Dependencies struct {
	Collector   *handlers.CollectorHandler
	Limiter     ratelimit.Limiter
	WriteKeys   middleware.KeyValidator // nil accepts unauthenticated ingest
	Registry    *prometheus.Registry
	HealthCheck map[string]HealthChecker
}

// HTTPServer serves the collector API
type HTTPServer struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger
	deps   *Dependencies
	srv    *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, deps *Dependencies, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	return &HTTPServer{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// Setup builds the router
func (s *HTTPServer) Setup() {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(logging.GinLogger(s.logger, s.config.Log.SlowRequestThreshold))

	if s.config.Metrics.Enabled {
		s.router.Use(middleware.NewHTTPMetrics(s.deps.Registry).Handler())
	}

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		ExposeHeaders:    s.config.CORS.ExposedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           s.config.CORS.MaxAge,
	}))
}

func (s *HTTPServer) setupRoutes() {
	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}

	collector := s.deps.Collector

	// Ingest routes are what trackers post to, so they sit at the root and carry the rate limit
	ingest := s.router.Group("")
	if s.config.RateLimit.Enabled && s.deps.Limiter != nil {
		ingest.Use(middleware.RateLimit(s.deps.Limiter, ratelimit.Policy{
			Limit:  s.config.RateLimit.PerIP,
			Window: s.config.RateLimit.Window,
		}, s.logger))
	}
	if s.deps.WriteKeys != nil {
		ingest.Use(middleware.WriteKey(s.deps.WriteKeys))
	}
	ingest.POST("/events", collector.IngestEvents)
	ingest.POST("/heatmap", collector.IngestHeatmap)
	ingest.POST("/recording", collector.IngestRecording)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/info", s.apiInfo)

		v1.GET("/events", collector.ListEvents)
		v1.GET("/events/stats", collector.EventStats)
		v1.GET("/recordings/:sessionId", collector.GetRecording)
		v1.GET("/heatmap", collector.GetHeatmap)
		v1.GET("/definitions", collector.GetDefinitions)

		docs := handlers.NewDocsHandler(s.config.Version)
		v1.GET("/docs", docs.GetSwaggerUI)
		v1.GET("/docs/openapi.json", docs.GetOpenAPI)
	}
}

func (s *HTTPServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(gin.H, len(s.deps.HealthCheck))
	for name, check := range s.deps.HealthCheck {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.config.StartTime).Seconds(),
		"checks":    checks,
	})
}

func (s *HTTPServer) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     s.config.Version,
		"environment": s.config.Environment,
	})
}

// Start listens until ctx is cancelled, then shuts down within the configured timeout
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Port),
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server",
			zap.Int("port", s.config.Port),
			zap.String("environment", s.config.Environment),
		)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Router returns the gin router for testing
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}
