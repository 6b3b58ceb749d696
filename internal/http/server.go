// Package http provides the ops HTTP listener for ragd: health,
// Prometheus metrics, and task status polling. The retrieval and
// ingestion surfaces are served over MCP, not HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/taskcache"
)

// healthCheckTimeout bounds each dependency ping.
const healthCheckTimeout = 2 * time.Second

// TaskReader looks up a task status snapshot. Satisfied by
// *taskcache.Cache.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (map[string]any, error)
}

// HealthCheck reports one dependency's availability.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds the ops listener configuration.
type Config struct {
	Host string
	Port int
}

// Server is the ops HTTP listener.
type Server struct {
	echo   *echo.Echo
	tasks  TaskReader
	checks []HealthCheck
	logger *zap.Logger
	config *Config
}

// NewServer creates the ops listener. tasks may be nil, in which case
// the task endpoint answers 503.
func NewServer(tasks TaskReader, checks []HealthCheck, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9090}
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
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{
		echo:   e,
		tasks:  tasks,
		checks: checks,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/tasks/:id", s.handleTaskStatus)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// handleHealth pings each registered dependency. The endpoint always
// answers 200; degraded dependencies show up in the body.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Services = make(map[string]string, len(s.checks))
	}

	for _, hc := range s.checks {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Services[hc.Name] = "down"
			s.logger.Warn("health check failed",
				zap.String("service", hc.Name),
				zap.Error(err))
			continue
		}
		resp.Services[hc.Name] = "ok"
	}

	return c.JSON(http.StatusOK, resp)
}

// handleTaskStatus returns the cached status snapshot for a task id.
func (s *Server) handleTaskStatus(c echo.Context) error {
	if s.tasks == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task cache unavailable")
	}

	taskID := c.Param("id")
	snapshot, err := s.tasks.Get(c.Request().Context(), taskID)
	if errors.Is(err, taskcache.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		s.logger.Error("task snapshot read failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "task cache read failed")
	}

	return c.JSON(http.StatusOK, snapshot)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting ops listener", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops listener")
	return s.echo.Shutdown(ctx)
}
