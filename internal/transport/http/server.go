// Package http hosts the echo server for the chat API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RouteRegistrar attaches handlers to the echo server.
type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo)
}

// Server wraps echo with the standard middleware stack.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the server and registers all routes.
func NewServer(host string, port int, handlers ...RouteRegistrar) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	for _, h := range handlers {
		h.RegisterRoutes(e)
	}

	return &Server{
		echo: e,
		addr: fmt.Sprintf("%s:%d", host, port),
	}
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// Echo exposes the underlying server for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
