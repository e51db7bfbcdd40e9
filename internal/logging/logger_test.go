package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	t.Run("Level filters entries", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "warn", Writer: &buf})
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept", zap.String("key", "value"))

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "kept", entries[0]["msg"])
		assert.Equal(t, "warn", entries[0]["level"])
		assert.Equal(t, "value", entries[0]["key"])
		assert.NotEmpty(t, entries[0]["timestamp"])
	})

	t.Run("PII fields are masked", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "debug", Writer: &buf, MaskPII: true, PIIFields: []string{"email", "ip"}})
		require.NoError(t, err)

		logger.With(zap.String("ip", "10.0.0.1")).Info("identify",
			zap.String("email", "a@b.c"),
			zap.String("user_id", "u1"),
		)

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, Redacted, entries[0]["email"])
		assert.Equal(t, Redacted, entries[0]["ip"])
		assert.Equal(t, "u1", entries[0]["user_id"])
	})

	t.Run("File output rotates through lumberjack", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "collector.log")
		logger, err := New(Config{Output: "file", FilePath: path, MaxSize: 1})
		require.NoError(t, err)
		logger.Info("written")
		assert.FileExists(t, path)
	})

	t.Run("Invalid output", func(t *testing.T) {
		_, err := New(Config{Output: "syslog"})
		assert.Error(t, err)

		_, err = New(Config{Output: "file"})
		assert.Error(t, err)
	})

	t.Run("MaskFields copies", func(t *testing.T) {
		in := map[string]interface{}{"email": "a@b.c", "plan": "pro"}
		out := MaskFields(in, []string{"email", "phone"})

		assert.Equal(t, Redacted, out["email"])
		assert.Equal(t, "pro", out["plan"])
		assert.NotContains(t, out, "phone")
		assert.Equal(t, "a@b.c", in["email"])
	})

	t.Run("Request id from context", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Writer: &buf})
		require.NoError(t, err)

		ctx := WithRequestID(context.Background(), "req-123")
		FromContext(ctx, logger).Info("handled")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "req-123", entries[0]["request_id"])
	})
}

func TestGinLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		status    int
		delay     time.Duration
		threshold time.Duration
		level     string
		msg       string
	}{
		{"Success logs at info", http.StatusOK, 0, 0, "info", "HTTP Request"},
		{"Server error logs at error", http.StatusInternalServerError, 0, 0, "error", "HTTP Request"},
		{"Slow request logs at warn", http.StatusOK, 20 * time.Millisecond, 5 * time.Millisecond, "warn", "Slow HTTP Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(Config{Writer: &buf})
			require.NoError(t, err)

			router := gin.New()
			router.Use(func(c *gin.Context) {
				c.Set("request_id", "req-1")
				c.Next()
			})
			router.Use(GinLogger(logger, tt.threshold))
			router.GET("/v1/events", func(c *gin.Context) {
				time.Sleep(tt.delay)
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events?limit=5", nil))

			entries := decodeLines(t, &buf)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0]["level"])
			assert.Equal(t, tt.msg, entries[0]["msg"])
			assert.Equal(t, "/v1/events", entries[0]["path"])
			assert.Equal(t, "limit=5", entries[0]["query"])
			assert.Equal(t, "req-1", entries[0]["request_id"])
			assert.Equal(t, float64(tt.status), entries[0]["status"])
		})
	}
}
