package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

var validStatuses = map[string]taskmodel.TaskStatus{
	string(taskmodel.StatusCreated):   taskmodel.StatusCreated,
	string(taskmodel.StatusRunning):   taskmodel.StatusRunning,
	string(taskmodel.StatusSucceeded): taskmodel.StatusSucceeded,
	string(taskmodel.StatusFailed):    taskmodel.StatusFailed,
	string(taskmodel.StatusCancelled): taskmodel.StatusCancelled,
}

// listTasksHandler handles GET /api/v1/tasks, optionally filtered by
// ?status=.
func (s *Server) listTasksHandler(c *echo.Context) error {
	var statusFilter *taskmodel.TaskStatus
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := validStatuses[raw]
		if !ok {
			return mapServiceError(gatewayerr.NewValidationError("status", "unknown task status: "+raw))
		}
		statusFilter = &st
	}

	tasks, err := s.tasks.ListTasks(c.Request().Context(), statusFilter)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	detail, err := s.tasks.GetTaskDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

type cancelTaskResponse struct {
	TaskID string               `json:"task_id"`
	Status taskmodel.TaskStatus `json:"status"`
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	task, err := s.tasks.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, cancelTaskResponse{TaskID: task.ID, Status: task.Status})
}
