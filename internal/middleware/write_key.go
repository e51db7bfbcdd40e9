package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/victoralfred/marketpulse/internal/writekey"
)

const (
	// APIKeyHeader carries the write key sent by trackers
	APIKeyHeader = "X-API-Key"

	// ProjectKey is the gin context key holding the project of an authenticated request
	ProjectKey = "project"
)

// KeyValidator verifies write keys
type KeyValidator interface {
	Validate(key string) (*writekey.Claims, error)
}

// WriteKey rejects ingest requests without a valid write key. The key is read
// from X-API-Key, falling back to a bearer Authorization header.
func WriteKey(keys KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				key = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if key == "" {
			abortUnauthorized(c, "AUTH_MISSING_TOKEN", "Write key is required")
			return
		}

		claims, err := keys.Validate(key)
		if errors.Is(err, writekey.ErrKeyExpired) {
			abortUnauthorized(c, "AUTH_TOKEN_EXPIRED", "Write key has expired")
			return
		}
		if err != nil {
			abortUnauthorized(c, "AUTH_INVALID_TOKEN", "Write key is invalid")
			return
		}

		c.Set(ProjectKey, claims.Project)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
