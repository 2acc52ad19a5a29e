// Package http provides the HTTP surface of `ptw serve`.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SettingsStore is the settings channel exposed to the popup.
type SettingsStore interface {
	Timeout(ctx context.Context) (int, error)
	SetTimeout(ctx context.Context, minutes int) error
}

// StatusFunc reports the state of a named service, e.g. the bridge.
type StatusFunc func() string

// Server provides HTTP endpoints for ptw.
type Server struct {
	echo     *echo.Echo
	settings SettingsStore
	services map[string]StatusFunc
	version  string
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(store SettingsStore, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("settings store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := NewHTTPMetrics()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			httpMetrics.Record(c.Request().Method, c.Path(), c.Response().Status, duration)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return nil
		}
	})

	s := &Server{
		echo:     e,
		settings: store,
		services: make(map[string]StatusFunc),
		version:  cfg.Version,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// RegisterService adds a named service to /api/v1/status.
func (s *Server) RegisterService(name string, status StatusFunc) {
	s.services[name] = status
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/settings", s.handleGetSettings)
	v1.PUT("/settings", s.handlePutSettings)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.version,
		Services: make(map[string]string, len(s.services)),
	}
	for name, status := range s.services {
		state := status()
		resp.Services[name] = state
		if state != "ok" {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	minutes, err := s.settings.Timeout(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to read settings", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read settings")
	}
	return c.JSON(http.StatusOK, SettingsResponse{Timeout: minutes})
}

// handlePutSettings applies the popup's timeout input. Non-numeric input is
// rejected and leaves the stored value unchanged.
func (s *Server) handlePutSettings(c echo.Context) error {
	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid settings request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	minutes, err := settings.ParseTimeoutInput(req.Timeout)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.settings.SetTimeout(ctx, minutes); err != nil {
		if errors.Is(err, settings.ErrInvalidTimeout) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("failed to write settings", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to write settings")
	}

	return c.JSON(http.StatusOK, SettingsResponse{Timeout: minutes})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
