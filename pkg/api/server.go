// Package api is the gateway's HTTP surface: message ingress, task
// lookup, cancellation, an SSE event stream, and health checks. It is
// deliberately thin — no auth, no middleware stack, no tracing — per the
// gateway's scope; every handler is a direct call into pkg/taskservice
// with errors mapped to HTTP status via mapServiceError.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/gateway/pkg/ssehub"
	"github.com/octoagent/gateway/pkg/taskmodel"
	"github.com/octoagent/gateway/pkg/taskservice"
)

// TaskService is the subset of *taskservice.Service the HTTP layer calls.
type TaskService interface {
	CreateTask(ctx context.Context, msg taskmodel.NormalizedMessage, modelAlias string) (taskID string, created bool, err error)
	Cancel(ctx context.Context, taskID string) (*taskmodel.Task, error)
	GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error)
	GetTaskDetail(ctx context.Context, taskID string) (*taskservice.TaskDetail, error)
	ListTasks(ctx context.Context, status *taskmodel.TaskStatus) ([]taskmodel.Task, error)
}

// Hub is the subset of *ssehub.Hub the stream handler calls.
type Hub interface {
	Subscribe(taskID string) *ssehub.Subscription
	Unsubscribe(sub *ssehub.Subscription)
}

// HistoryReader lets the stream handler replay history after it has
// already registered with the hub, so no event published in between is
// lost.
type HistoryReader interface {
	EventsFor(ctx context.Context, taskID string) ([]taskmodel.Event, error)
	EventsAfter(ctx context.Context, taskID, afterEventID string) ([]taskmodel.Event, error)
	GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error)
}

// CheckFunc is a named readiness probe run on every GET /health/ready
// call. It returns an error describing why the component is unhealthy,
// or nil.
type CheckFunc func(ctx context.Context) error

// Server wires the task service, event hub, and readiness checks into an
// echo.Echo instance and owns its HTTP lifecycle.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	log        *slog.Logger

	tasks   TaskService
	hub     Hub
	history HistoryReader
	checks  map[string]CheckFunc

	readinessProfile string
}

// NewServer builds a Server with routes registered but no service wired
// in yet. Call the Set* methods, then ValidateWiring, before Start.
func NewServer(log *slog.Logger, readinessProfile string) *Server {
	if log == nil {
		log = slog.Default()
	}
	if readinessProfile == "" {
		readinessProfile = "core"
	}
	e := echo.New()

	s := &Server{
		echo:             e,
		log:              log,
		checks:           make(map[string]CheckFunc),
		readinessProfile: readinessProfile,
	}
	s.setupRoutes()
	return s
}

// SetTaskService wires the task service used by ingress, detail, list,
// and cancel routes.
func (s *Server) SetTaskService(ts TaskService) { s.tasks = ts }

// SetHub wires the SSE hub used by the stream route.
func (s *Server) SetHub(h Hub) { s.hub = h }

// SetHistoryReader wires the store-backed history reader used by the
// stream route's replay step.
func (s *Server) SetHistoryReader(hr HistoryReader) { s.history = hr }

// RegisterHealthCheck adds a named readiness probe. A "core" profile
// server registers only the store's connectivity check; "llm" and
// "full" profiles additionally register an LM proxy liveliness probe.
func (s *Server) RegisterHealthCheck(name string, check CheckFunc) {
	s.checks[name] = check
}

// ValidateWiring reports every required dependency left unset. Call
// after all Set* calls and before Start.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.tasks == nil {
		errs = append(errs, fmt.Errorf("api: task service not wired"))
	}
	if s.hub == nil {
		errs = append(errs, fmt.Errorf("api: event hub not wired"))
	}
	if s.history == nil {
		errs = append(errs, fmt.Errorf("api: history reader not wired"))
	}
	return errors.Join(errs...)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health/live", s.livenessHandler)
	s.echo.GET("/health/ready", s.readinessHandler)

	g := s.echo.Group("/api/v1")
	g.POST("/messages", s.createMessageHandler)
	g.GET("/tasks", s.listTasksHandler)
	g.GET("/tasks/:id", s.getTaskHandler)
	g.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	g.GET("/tasks/:id/stream", s.streamTaskHandler)
}

// Start runs the HTTP server on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	s.log.Info("http server starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartWithListener runs the HTTP server on a caller-supplied listener,
// useful for tests that bind an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, including open SSE
// streams, until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Echo exposes the underlying echo.Echo for tests that want to drive
// requests directly with httptest.
func (s *Server) Echo() *echo.Echo { return s.echo }
