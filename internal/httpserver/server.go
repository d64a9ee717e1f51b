// Package httpserver exposes the assistant to the browser UI: a health
// endpoint plus a websocket session carrying commands, audio and status
// events.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/config"
)

// Server bundles the echo router and its dependencies.
type Server struct {
	Echo     *echo.Echo
	snapshot func() config.Settings
	logger   *slog.Logger
}

// New creates a configured echo server with routes registered.
func New(snapshot func() config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{Echo: e, snapshot: snapshot, logger: logger}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/session", s.handleSession)

	return s
}
