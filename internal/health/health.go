// Package health exposes liveness and readiness endpoints for the daemon.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Check probes one dependency. A nil error means ready.
type Check func(ctx context.Context) error

type Server struct {
	echo   *echo.Echo
	addr   string
	checks map[string]Check
	logger *slog.Logger
}

func NewServer(log *slog.Logger, addr string, checks map[string]Check) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8081"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		addr:   addr,
		checks: checks,
		logger: log.With(slog.String("service", "health")),
	}
	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	return s
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz runs every registered check; the first failure flips the
// response to 503 but the remaining checks still run so the payload names
// every broken dependency.
func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.Any("error", err))
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return c.JSON(code, status)
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
