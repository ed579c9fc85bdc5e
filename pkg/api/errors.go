package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/gatewayerr"
)

// mapServiceError maps an error returned by pkg/taskservice (or the
// layers beneath it) to an echo.HTTPError with an appropriate status.
func mapServiceError(err error) *echo.HTTPError {
	var validationErr *gatewayerr.ValidationError
	if errors.As(err, &validationErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validationErr.Error())
	}
	if errors.Is(err, gatewayerr.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if errors.Is(err, gatewayerr.ErrAlreadyTerminal) {
		return echo.NewHTTPError(http.StatusConflict, "task is already in a terminal state")
	}
	if gatewayerr.IsStatusConflict(err) {
		return echo.NewHTTPError(http.StatusConflict, "task status changed concurrently, retry")
	}
	if errors.Is(err, gatewayerr.ErrProxyUnreachable) {
		return echo.NewHTTPError(http.StatusBadGateway, "lm proxy unreachable")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
