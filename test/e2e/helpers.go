package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// HTTP client helpers
// ────────────────────────────────────────────────────────────

// SubmitMessage posts a message and returns the parsed response.
func (app *TestApp) SubmitMessage(t *testing.T, text, idempotencyKey string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{
		"channel":         "web",
		"thread_id":       "thread-1",
		"sender_id":       "user-1",
		"text":            text,
		"idempotency_key": idempotencyKey,
	}
	resp, status := app.postJSON(t, "/api/v1/messages", body)
	require.True(t, status == http.StatusOK || status == http.StatusCreated, "POST /api/v1/messages: unexpected status %d", status)
	return resp
}

// GetTaskDetail calls GET /api/v1/tasks/:id.
func (app *TestApp) GetTaskDetail(t *testing.T, taskID string) map[string]interface{} {
	t.Helper()
	resp, status := app.getJSON(t, "/api/v1/tasks/"+taskID)
	require.Equal(t, http.StatusOK, status, "GET /api/v1/tasks/%s: unexpected status", taskID)
	return resp
}

// CancelTask calls POST /api/v1/tasks/:id/cancel.
func (app *TestApp) CancelTask(t *testing.T, taskID string) map[string]interface{} {
	t.Helper()
	resp, status := app.postJSON(t, "/api/v1/tasks/"+taskID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, "POST /api/v1/tasks/%s/cancel: unexpected status", taskID)
	return resp
}

func (app *TestApp) postJSON(t *testing.T, path string, body interface{}) (map[string]interface{}, int) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result, resp.StatusCode
}

func (app *TestApp) getJSON(t *testing.T, path string) (map[string]interface{}, int) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result, resp.StatusCode
}

// ────────────────────────────────────────────────────────────
// SSE client helpers
// ────────────────────────────────────────────────────────────

// SSEFrame is one parsed server-sent event frame.
type SSEFrame struct {
	ID    string
	Event string
	Data  map[string]interface{}
}

// StreamTask opens GET /api/v1/tasks/:id/stream, optionally with a
// Last-Event-ID header, and returns a function that reads the next frame
// (or ok=false once the response body closes) plus a closer.
func (app *TestApp) StreamTask(t *testing.T, taskID, lastEventID string) (next func() (SSEFrame, bool), closeStream func()) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+"/api/v1/tasks/"+taskID+"/stream", nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	next = func() (SSEFrame, bool) {
		var frame SSEFrame
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return frame, false
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if frame.Event != "" {
					return frame, true
				}
				continue
			case strings.HasPrefix(line, ": "):
				continue
			case strings.HasPrefix(line, "id: "):
				frame.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				frame.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var data map[string]interface{}
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err == nil {
					frame.Data = data
				}
			}
		}
	}
	closeStream = func() { _ = resp.Body.Close() }
	return next, closeStream
}

// CollectEvents reads frames from next until it reports a final event or
// runs dry, returning every frame read.
func CollectEvents(t *testing.T, next func() (SSEFrame, bool)) []SSEFrame {
	t.Helper()
	var frames []SSEFrame
	for {
		frame, ok := next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
		if final, _ := frame.Data["final"].(bool); final {
			return frames
		}
	}
}

// EventTypes extracts the "type" field from each frame's data, in order,
// for compact assertions on an event stream's shape.
func EventTypes(frames []SSEFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = fmt.Sprintf("%v", f.Data["type"])
	}
	return out
}
