package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultClient() HTTPDoer {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends body as JSON and fails on a non-2xx status
func postJSON(ctx context.Context, client HTTPDoer, url string, body interface{}, decorate func(*http.Request)) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// mergeProps copies metadata and overlays extra keys
func mergeProps(metadata map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+len(extra))
	for k, v := range metadata {
		out[k] = v
	}
	for k, v := range extra {
		if v == nil || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// distinctID prefers the user id over the session id
func distinctID(userID, sessionID string) string {
	if userID != "" {
		return userID
	}
	return sessionID
}
