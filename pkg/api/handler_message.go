package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// createMessageRequest is the ingress wire shape. idempotency_key and
// text are required; everything else defaults to the zero value.
type createMessageRequest struct {
	Channel        string                 `json:"channel"`
	ThreadID       string                 `json:"thread_id"`
	ScopeID        string                 `json:"scope_id,omitempty"`
	SenderID       string                 `json:"sender_id"`
	SenderName     string                 `json:"sender_name,omitempty"`
	Text           string                 `json:"text"`
	Attachments    []taskmodel.Attachment `json:"attachments,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
	ModelAlias     string                 `json:"model_alias,omitempty"`
}

type createMessageResponse struct {
	TaskID  string               `json:"task_id"`
	Status  taskmodel.TaskStatus `json:"status"`
	Created bool                 `json:"created"`
}

// createMessageHandler handles POST /api/v1/messages.
func (s *Server) createMessageHandler(c *echo.Context) error {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	if req.IdempotencyKey == "" {
		return mapServiceError(gatewayerr.NewValidationError("idempotency_key", "must not be empty"))
	}

	msg := taskmodel.NormalizedMessage{
		Channel:        req.Channel,
		ThreadID:       req.ThreadID,
		ScopeID:        req.ScopeID,
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Timestamp:      time.Now(),
		Text:           req.Text,
		Attachments:    req.Attachments,
		IdempotencyKey: req.IdempotencyKey,
	}

	taskID, created, err := s.tasks.CreateTask(c.Request().Context(), msg, req.ModelAlias)
	if err != nil {
		return mapServiceError(err)
	}

	task, err := s.tasks.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return mapServiceError(err)
	}

	httpStatus := http.StatusOK
	if created {
		httpStatus = http.StatusCreated
	}
	return c.JSON(httpStatus, createMessageResponse{TaskID: taskID, Status: task.Status, Created: created})
}
