// Package http serves the operations API: health, metrics, provider
// status, task submission and inspection, and pending deferrals.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider/guidance"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/fyrsmithlabs/reasond/internal/runtime"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Tasks accepts and cancels tasks.
type Tasks interface {
	Submit(ctx context.Context, description, channel string) (*task.Task, error)
	Cancel(ctx context.Context, taskID, reason string) error
	QueueDepth() int
}

// Providers reports provider status per domain.
type Providers interface {
	Snapshot() map[registry.Domain][]registry.ProviderStatus
}

// Events returns the audit trail of a task.
type Events interface {
	Events(taskID string) []audit.Event
}

// Deferrals lists and resolves queued guidance requests.
type Deferrals interface {
	Pending() []guidance.Deferral
	Resolve(ticket, guidance string) (guidance.Deferral, error)
}

// Deps are the components the API reads. Events and Deferrals are
// optional; their routes answer 404 when unset.
type Deps struct {
	Tasks     Tasks
	Store     task.Store
	Providers Providers
	Events    Events
	Deferrals Deferrals
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the echo-based API server.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates the server and registers its routes.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Tasks == nil || deps.Store == nil || deps.Providers == nil {
		return nil, errors.New("tasks, store and providers are required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}
	logger = logging.OrNop(logger).Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, deps: deps, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/providers", s.handleProviders)
	v1.GET("/tasks", s.handleListTasks)
	v1.POST("/tasks", s.handleSubmit)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks/:id/cancel", s.handleCancel)
	v1.GET("/tasks/:id/events", s.handleEvents)
	v1.GET("/deferrals", s.handleDeferrals)
	v1.POST("/deferrals/:ticket/resolve", s.handleResolve)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
}

// SubmitRequest is the request body for POST /api/v1/tasks.
type SubmitRequest struct {
	Description string `json:"description"`
	Channel     string `json:"channel,omitempty"`
}

// TaskResponse is the response body for GET /api/v1/tasks/:id.
type TaskResponse struct {
	Task     *task.Task      `json:"task"`
	Thoughts []*task.Thought `json:"thoughts"`
}

// CancelRequest is the request body for POST /api/v1/tasks/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ResolveRequest is the request body for POST /api/v1/deferrals/:ticket/resolve.
type ResolveRequest struct {
	Guidance string `json:"guidance"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", QueueDepth: s.deps.Tasks.QueueDepth()})
}

func (s *Server) handleProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Providers.Snapshot())
}

func (s *Server) handleListTasks(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	tasks, err := s.deps.Store.ListTasks(c.Request().Context(), limit)
	if err != nil {
		return s.internal(c, "listing tasks", err)
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := s.deps.Tasks.Submit(c.Request().Context(), req.Description, req.Channel)
	switch {
	case errors.Is(err, runtime.ErrEmptyTask):
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	case errors.Is(err, runtime.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task queue is full")
	case err != nil:
		return s.internal(c, "submitting task", err)
	}
	return c.JSON(http.StatusAccepted, t)
}

func (s *Server) handleGetTask(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := s.deps.Store.GetTask(ctx, c.Param("id"))
	if errors.Is(err, task.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return s.internal(c, "loading task", err)
	}
	thoughts, err := s.deps.Store.Thoughts(ctx, t.ID)
	if err != nil {
		return s.internal(c, "loading thoughts", err)
	}
	return c.JSON(http.StatusOK, TaskResponse{Task: t, Thoughts: thoughts})
}

func (s *Server) handleCancel(c echo.Context) error {
	var req CancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	err := s.deps.Tasks.Cancel(c.Request().Context(), c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, task.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrTerminalStatus):
		return echo.NewHTTPError(http.StatusConflict, "task already closed")
	case err != nil:
		return s.internal(c, "canceling task", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEvents(c echo.Context) error {
	if s.deps.Events == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit recording disabled")
	}
	events := s.deps.Events.Events(c.Param("id"))
	if events == nil {
		events = []audit.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleDeferrals(c echo.Context) error {
	if s.deps.Deferrals == nil {
		return echo.NewHTTPError(http.StatusNotFound, "deferral queue disabled")
	}
	pending := s.deps.Deferrals.Pending()
	if pending == nil {
		pending = []guidance.Deferral{}
	}
	return c.JSON(http.StatusOK, pending)
}

func (s *Server) handleResolve(c echo.Context) error {
	if s.deps.Deferrals == nil {
		return echo.NewHTTPError(http.StatusNotFound, "deferral queue disabled")
	}
	var req ResolveRequest
	if err := c.Bind(&req); err != nil || req.Guidance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "guidance is required")
	}
	d, err := s.deps.Deferrals.Resolve(c.Param("ticket"), req.Guidance)
	if errors.Is(err, guidance.ErrUnknownTicket) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown ticket")
	}
	if err != nil {
		return s.internal(c, "resolving deferral", err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) internal(c echo.Context, op string, err error) error {
	s.logger.Error(c.Request().Context(), op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
