package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/ssehub"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// sseEventData is the JSON payload written inside each SSE frame's data
// field.
type sseEventData struct {
	EventID string          `json:"event_id"`
	TaskID  string          `json:"task_id"`
	TaskSeq int64           `json:"task_seq"`
	Ts      string          `json:"ts"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Payload json.RawMessage `json:"payload"`
	Final   bool            `json:"final"`
}

// streamTaskHandler handles GET /api/v1/tasks/:id/stream, serving the
// task's event stream over SSE.
//
// Unlike the replay-then-subscribe ordering some SSE implementations
// use, this handler subscribes to the hub before it queries history, so
// an event published in the gap between the two is never silently
// lost. The live loop below discards anything at or before the last
// task_seq already sent, which makes the handoff exactly-once instead
// of zero-or-twice.
func (s *Server) streamTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	ctx := c.Request().Context()

	task, err := s.history.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, gatewayerr.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return mapServiceError(err)
	}

	sub := s.hub.Subscribe(taskID)
	defer s.hub.Unsubscribe(sub)

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	lastEventID := c.Request().Header.Get("Last-Event-ID")
	var history []taskmodel.Event
	if lastEventID != "" {
		history, err = s.history.EventsAfter(ctx, taskID, lastEventID)
	} else {
		history, err = s.history.EventsFor(ctx, taskID)
	}
	if err != nil {
		return mapServiceError(err)
	}

	var lastSeq int64
	for _, ev := range history {
		final := ssehub.IsTerminalEvent(ev)
		if err := writeSSEFrame(resp, ev, final); err != nil {
			return nil
		}
		lastSeq = ev.TaskSeq
		if final {
			return nil
		}
	}

	if taskmodel.IsTerminal(task.Status) {
		return nil
	}

	done := ctx.Done()
	for {
		ev, heartbeat, ok := sub.Recv(done)
		if !ok {
			return nil
		}
		if heartbeat {
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
			continue
		}
		if ev.TaskSeq <= lastSeq {
			continue
		}
		final := ssehub.IsTerminalEvent(ev)
		if err := writeSSEFrame(resp, ev, final); err != nil {
			return nil
		}
		lastSeq = ev.TaskSeq
		if final {
			return nil
		}
	}
}

func writeSSEFrame(resp *echo.Response, ev taskmodel.Event, final bool) error {
	data := sseEventData{
		EventID: ev.ID,
		TaskID:  ev.TaskID,
		TaskSeq: ev.TaskSeq,
		Ts:      ev.Ts.Format("2006-01-02T15:04:05.000Z07:00"),
		Type:    string(ev.Type),
		Actor:   string(ev.Actor),
		Payload: ev.Payload,
		Final:   final,
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, body); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
