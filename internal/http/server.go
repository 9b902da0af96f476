// Package http provides the HTTP API for tbcv: workflow control, checkpoint
// recovery, validation results, and recommendation review.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tbcv/internal/validate"
	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

// Server provides HTTP endpoints for tbcv.
type Server struct {
	echo    *echo.Echo
	manager *workflow.Manager
	content *validate.Service
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// CheckpointRetention is the default keep count for checkpoint cleanup.
	CheckpointRetention int
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(manager *workflow.Manager, content *validate.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("workflow manager is required")
	}
	if content == nil {
		return nil, fmt.Errorf("validation service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9340, CheckpointRetention: 3}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		manager: manager,
		content: content,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/workflows", s.handleCreateWorkflow)
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.POST("/workflows/:id/start", s.handleStartWorkflow)
	v1.POST("/workflows/:id/pause", s.handlePauseWorkflow)
	v1.POST("/workflows/:id/resume", s.handleResumeWorkflow)
	v1.POST("/workflows/:id/cancel", s.handleCancelWorkflow)
	v1.GET("/workflows/:id/summary", s.handleWorkflowSummary)
	v1.GET("/workflows/:id/report", s.handleWorkflowReport)
	v1.GET("/workflows/:id/validations", s.handleListValidations)

	v1.GET("/workflows/:id/checkpoints", s.handleListCheckpoints)
	v1.POST("/workflows/:id/checkpoints/cleanup", s.handleCleanupCheckpoints)
	v1.POST("/workflows/:id/checkpoints/:checkpoint_id/rollback", s.handleRollback)
	v1.POST("/workflows/:id/recover", s.handleRecover)

	v1.GET("/recommendations", s.handleListRecommendations)
	v1.POST("/recommendations/:id/approve", s.handleApproveRecommendation)
	v1.POST("/recommendations/:id/reject", s.handleRejectRecommendation)
	v1.POST("/recommendations/:id/apply", s.handleApplyRecommendation)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateWorkflow(c echo.Context) error {
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type field is required")
	}

	wf, err := s.manager.CreateWorkflow(c.Request().Context(), workflow.Type(req.Type), req.Params)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	wfs, err := s.manager.List(c.Request().Context(), workflow.State(c.QueryParam("state")))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, ListWorkflowsResponse{Workflows: wfs, Active: s.manager.Active()})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	wf, err := s.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// handleStartWorkflow launches execution on a background goroutine and
// returns immediately. Execution outcomes are captured into workflow state,
// not this response.
func (s *Server) handleStartWorkflow(c echo.Context) error {
	id := c.Param("id")
	wf, err := s.manager.Get(c.Request().Context(), id)
	if err != nil {
		return domainError(err)
	}
	if wf.State != workflow.StatePending && wf.State != workflow.StateRunning {
		return echo.NewHTTPError(http.StatusConflict,
			fmt.Sprintf("workflow %s is %s, not startable", id, wf.State))
	}

	go s.manager.Execute(context.Background(), id)

	return c.JSON(http.StatusAccepted, StartWorkflowResponse{WorkflowID: id, State: string(wf.State)})
}

func (s *Server) handlePauseWorkflow(c echo.Context) error {
	state, err := s.manager.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, StateResponse{State: string(state)})
}

func (s *Server) handleResumeWorkflow(c echo.Context) error {
	state, err := s.manager.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, StateResponse{State: string(state)})
}

func (s *Server) handleCancelWorkflow(c echo.Context) error {
	state, err := s.manager.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, StateResponse{State: string(state)})
}

func (s *Server) handleWorkflowSummary(c echo.Context) error {
	summary, err := s.manager.Summary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleWorkflowReport(c echo.Context) error {
	details := c.QueryParam("details") == "true"
	report, err := s.manager.GenerateReport(c.Request().Context(), c.Param("id"), details)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleListValidations(c echo.Context) error {
	results, err := s.content.Results(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	cps, err := s.manager.Checkpoints().List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, cps)
}

func (s *Server) handleCleanupCheckpoints(c echo.Context) error {
	keep := s.config.CheckpointRetention
	if v := c.QueryParam("keep"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "keep must be a non-negative integer")
		}
		keep = n
	}

	deleted, err := s.manager.Checkpoints().Cleanup(c.Request().Context(), c.Param("id"), keep)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, CleanupResponse{Deleted: deleted, Kept: keep})
}

func (s *Server) handleRollback(c echo.Context) error {
	wf, err := s.manager.Checkpoints().Rollback(c.Request().Context(), c.Param("id"), c.Param("checkpoint_id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) handleRecover(c echo.Context) error {
	cp, err := s.manager.Checkpoints().Recover(c.Request().Context(), c.Param("id"))
	if errors.Is(err, workflow.ErrNoUsableCheckpoint) {
		return c.JSON(http.StatusOK, RecoverResponse{Restarted: true})
	}
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, RecoverResponse{Checkpoint: cp})
}

func (s *Server) handleListRecommendations(c echo.Context) error {
	recs, err := s.content.Recommendations(c.Request().Context(), validate.RecommendationStatus(c.QueryParam("status")))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) handleApproveRecommendation(c echo.Context) error {
	rec, err := s.content.Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRejectRecommendation(c echo.Context) error {
	rec, err := s.content.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleApplyRecommendation(c echo.Context) error {
	if err := s.content.ApplyRecommendation(c.Request().Context(), c.Param("id")); err != nil {
		return domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// domainError translates core error types into HTTP status codes: unknown ids
// become 404, illegal transitions and review conflicts 409, bad input 400.
func domainError(err error) error {
	var (
		notFound     *workflow.NotFoundError
		vNotFound    *validate.NotFoundError
		illegal      *workflow.IllegalTransitionError
		notRunning   *workflow.NotRunningError
		statusErr    *validate.StatusError
		unknownType  *workflow.UnknownTypeError
		missingParam *workflow.MissingParamError
		cpInvalid    *workflow.CheckpointInvalidError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &vNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &illegal), errors.As(err, &notRunning), errors.As(err, &statusErr), errors.As(err, &cpInvalid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &unknownType), errors.As(err, &missingParam):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
