package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/version"
)

const (
	readinessReady    = "ready"
	readinessNotReady = "not_ready"
)

// livenessHandler handles GET /health/live. It never checks a
// dependency: a process that can answer HTTP at all is alive, and an
// orchestrator restarting it for a downstream outage would only make
// the outage worse.
func (s *Server) livenessHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "alive", Version: version.Full()})
}

// readinessHandler handles GET /health/ready. It runs every registered
// probe with a 5 second budget each; the "core" profile registers store
// connectivity, artifacts directory accessibility, and free disk space,
// while "llm"/"full" additionally register an LM proxy liveliness probe.
func (s *Server) readinessHandler(c *echo.Context) error {
	status := readinessReady
	checks := make(map[string]HealthCheck, len(s.checks))

	for name, check := range s.checks {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		err := check(reqCtx)
		cancel()
		if err != nil {
			status = readinessNotReady
			checks[name] = HealthCheck{Status: readinessNotReady, Message: err.Error()}
		} else {
			checks[name] = HealthCheck{Status: readinessReady}
		}
	}

	httpStatus := http.StatusOK
	if status == readinessNotReady {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
