// Package middleware holds the gin middleware used by the collector.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/ratelimit"
)

// RateLimit limits requests per client IP and route
func RateLimit(limiter ratelimit.Limiter, policy ratelimit.Policy, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:ip:%s", c.FullPath(), c.ClientIP())

		result, err := limiter.Allow(c.Request.Context(), key, policy.Limit, policy.Window)
		if err != nil {
			logger.Error("Rate limit check failed", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_ERROR",
					"message": "Rate limiting service unavailable",
				},
			})
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":        "RATE_LIMIT_EXCEEDED",
					"message":     "Rate limit exceeded",
					"limit":       result.Limit,
					"remaining":   result.Remaining,
					"reset_at":    result.ResetAt.Unix(),
					"retry_after": int(result.RetryAfter.Seconds()),
				},
			})
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}
