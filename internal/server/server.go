// Package server provides the HTTP API for scaffoldd: the session-scoped
// request/response surface and the per-session SSE progress feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scaffoldd/internal/config"
	"github.com/fyrsmithlabs/scaffoldd/internal/metrics"
	"github.com/fyrsmithlabs/scaffoldd/internal/orchestrator"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
)

// Server provides HTTP endpoints for scaffoldd.
type Server struct {
	echo     *echo.Echo
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	cfg      *config.Config
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New creates the HTTP server.
func New(registry *session.Registry, orch *orchestrator.Orchestrator, cfg *config.Config, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if registry == nil || orch == nil {
		return nil, fmt.Errorf("registry and orchestrator are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		orch:     orch,
		cfg:      cfg,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.POST("/sessions/:id/messages", s.handleSendMessage)
	v1.GET("/sessions/:id/messages", s.handleListMessages)
	v1.POST("/sessions/:id/approval", s.handleApproval)
	v1.GET("/sessions/:id/status", s.handleStatus)
	v1.GET("/sessions/:id/result", s.handleResult)
	v1.GET("/sessions/:id/events", s.handleEvents)
}

// handleHealth reports ok, or degraded while configuration warnings exist.
func (s *Server) handleHealth(c echo.Context) error {
	warnings := s.cfg.Warnings()
	status := "ok"
	if len(warnings) > 0 {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		Service:  "scaffoldd",
		Warnings: warnings,
	})
}

// handleCreateSession starts a new scaffolding session.
func (s *Server) handleCreateSession(c echo.Context) error {
	sess := s.registry.Create()
	s.metrics.SessionsCreated.Inc()
	s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
	})
}

// handleSendMessage routes one user message into the orchestrator.
func (s *Server) handleSendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	var reply session.Message
	err := s.registry.Update(c.Param("id"), func(sess *session.Session) error {
		var err error
		reply, err = s.orch.HandleMessage(c.Request().Context(), sess, req.Content)
		return err
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(reply))
}

// handleListMessages returns the full ordered conversation history.
func (s *Server) handleListMessages(c echo.Context) error {
	var out []MessageResponse
	err := s.registry.View(c.Param("id"), func(sess *session.Session) error {
		out = make([]MessageResponse, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			out = append(out, toMessageResponse(m))
		}
		return nil
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// handleApproval accepts or rejects the current plan.
func (s *Server) handleApproval(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var reply session.Message
	err := s.registry.Update(c.Param("id"), func(sess *session.Session) error {
		var err error
		reply, err = s.orch.HandleApproval(c.Request().Context(), sess, req.Approved, req.Feedback)
		return err
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(reply))
}

// handleStatus reports the session lifecycle state.
func (s *Server) handleStatus(c echo.Context) error {
	var out StatusResponse
	err := s.registry.View(c.Param("id"), func(sess *session.Session) error {
		out = StatusResponse{
			SessionID:      sess.ID,
			Status:         sess.Status,
			MessageCount:   len(sess.Messages),
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			FailureReason:  sess.FailureReason,
		}
		return nil
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// handleResult returns the delivery result of a completed session.
func (s *Server) handleResult(c echo.Context) error {
	var out *session.DeliveryResult
	err := s.registry.View(c.Param("id"), func(sess *session.Session) error {
		if sess.Status != session.StatusCompleted || sess.Result == nil {
			return fmt.Errorf("%w: session is %s", session.ErrNotCompleted, sess.Status)
		}
		result := *sess.Result
		out = &result
		return nil
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// mapError translates expected error kinds onto HTTP statuses. Anything
// unexpected becomes a 500 with no internal detail.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		return echo.NewHTTPError(http.StatusConflict, "session is processing another request")
	case errors.Is(err, session.ErrInvalidPhase), errors.Is(err, session.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusRequestTimeout, "request canceled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled, running
// the idle-session eviction loop alongside. Returns http.ErrServerClosed
// on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	evictDone := make(chan struct{})
	go func() {
		defer close(evictDone)
		s.evictLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		<-evictDone
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// evictLoop drives idle-session eviction on the configured interval.
func (s *Server) evictLoop(ctx context.Context) {
	interval := s.cfg.Sessions.EvictInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.EvictIdle(s.cfg.Sessions.MaxIdle)
			s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
		}
	}
}

// Echo returns the underlying Echo instance, used by tests to drive
// handlers directly.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
