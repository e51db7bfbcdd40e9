package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinLogger logs each request: 5xx at error, requests slower than slowThreshold at warn,
// everything else at info. A zero threshold disables slow request detection.
func GinLogger(logger *zap.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if raw != "" {
			fields = append(fields, zap.String("query", raw))
		}
		if reqID := c.GetString(RequestIDKey); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP Request", fields...)
		case slowThreshold > 0 && latency > slowThreshold:
			logger.Warn("Slow HTTP Request", fields...)
		default:
			logger.Info("HTTP Request", fields...)
		}
	}
}
