package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/marketpulse/internal/middleware"
	"github.com/victoralfred/marketpulse/internal/writekey"
)

func TestRootCommand(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	defs := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
goals:
  - id: purchase
    name: Purchase
    conditions:
      - field: name
        operator: equals
        value: purchase
`), 0o600))

	t.Run("runs sessions against collector", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{
			"--endpoint", collector.URL,
			"--sessions", "3",
			"--events", "8",
			"--think", "0s",
			"--seed", "7",
			"--definitions", defs,
			"--log-level", "error",
		})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "sessions:   3 (0 failed)")

		mu.Lock()
		defer mu.Unlock()
		assert.Positive(t, hits["/events"])
		assert.Equal(t, 3, hits["/recording"])
		assert.Positive(t, hits["/heatmap"])
	})

	t.Run("signs write key", func(t *testing.T) {
		keys, err := writekey.New("s3cret", "collector")
		require.NoError(t, err)

		var rejected atomic.Int64
		authed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := keys.Validate(r.Header.Get(middleware.APIKeyHeader))
			if err != nil || claims.Project != "shop" {
				rejected.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		}))
		defer authed.Close()

		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{
			"--endpoint", authed.URL,
			"--sessions", "1",
			"--events", "4",
			"--think", "0s",
			"--record=false",
			"--write-key-secret", "s3cret",
			"--project", "shop",
			"--log-level", "error",
		})

		require.NoError(t, cmd.Execute())
		assert.Zero(t, rejected.Load())
	})

	t.Run("explicit write key wins", func(t *testing.T) {
		key, err := resolveWriteKey(&options{writeKey: "given", writeKeySecret: "s3cret", project: "shop"})
		require.NoError(t, err)
		assert.Equal(t, "given", key)

		key, err = resolveWriteKey(&options{})
		require.NoError(t, err)
		assert.Empty(t, key)
	})

	t.Run("missing definitions file", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--definitions", filepath.Join(t.TempDir(), "nope.yaml")})

		assert.Error(t, cmd.Execute())
	})
}
