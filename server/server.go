// Package server provides the relay's HTTP health surface using the Echo
// framework. The relay is a headless processor, so the server exposes only
// liveness and readiness endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/go-relay/config"
	"github.com/gaborage/go-relay/logger"
)

// ReadinessChecker reports whether a dependency is ready to serve. The
// messaging client satisfies this interface.
type ReadinessChecker interface {
	IsReady() bool
}

// ReadinessFunc adapts a function to the ReadinessChecker interface.
type ReadinessFunc func() bool

// IsReady reports the function's result.
func (f ReadinessFunc) IsReady() bool { return f() }

// Server is the relay's health HTTP server.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	logger   logger.Logger
	checkers []ReadinessChecker
}

// normalizeRoutePath ensures a route path starts with "/" and falls back to
// the default when empty.
func normalizeRoutePath(route, defaultRoute string) string {
	if route == "" {
		route = defaultRoute
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// New creates the health server. The given checkers gate the readiness
// endpoint: /ready reports 503 until every checker reports ready.
func New(cfg *config.Config, log logger.Logger, checkers ...ReadinessChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		logger:   log,
		checkers: checkers,
	}

	healthPath := normalizeRoutePath(cfg.Server.Path.Health, "/health")
	readyPath := normalizeRoutePath(cfg.Server.Path.Ready, "/ready")

	e.GET(healthPath, s.healthCheck)
	e.GET(readyPath, s.readyCheck)

	log.Debug().
		Str("health_path", healthPath).
		Str("ready_path", readyPath).
		Msg("Health server paths configured")

	return s
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server and blocks until it is shut down or fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.logger.Info().
		Str("service", s.cfg.App.Name).
		Str("version", s.cfg.App.Version).
		Str("env", s.cfg.App.Env).
		Str("address", addr).
		Msg("Starting health server...")

	// Timeouts are set on echo's own server so Shutdown stops the instance
	// that is actually serving.
	s.echo.Server.ReadTimeout = s.cfg.Server.Timeout.Read
	s.echo.Server.WriteTimeout = s.cfg.Server.Timeout.Write

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) readyCheck(c echo.Context) error {
	for _, checker := range s.checkers {
		if !checker.IsReady() {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"time":   time.Now().Unix(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
