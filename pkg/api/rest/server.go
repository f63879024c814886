// Package rest exposes the spec service over HTTP using Echo. Commands
// go through the bus; queries hit the query handler directly.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/idgen"
	"github.com/navicore/spec-service/pkg/observability"
)

// Principals are hard-coded until authentication lands: content
// operations run as a user, lifecycle operations as an admin.
const (
	userPrincipal  = "user@example.com"
	adminPrincipal = "admin@example.com"
)

// Server is the HTTP API. It implements runner.Service: Start binds
// the listener before returning, Stop drains in-flight requests.
type Server struct {
	echo    *echo.Echo
	bus     *cqrs.Bus
	queries *handlers.QueryHandler
	logger  *slog.Logger
	addr    string
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithAddr sets the listen address. Defaults to ":3000".
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds the Echo app with its middleware and routes.
func NewServer(bus *cqrs.Bus, queries *handlers.QueryHandler, opts ...ServerOption) *Server {
	s := &Server{
		bus:     bus,
		queries: queries,
		addr:    ":3000",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: idgen.MustGenerateSortableID,
	}))
	e.Use(echomiddleware.Recover())
	e.Use(requestLogger(s.logger))

	e.POST("/specs", s.createSpec)
	e.GET("/specs", s.listSpecs)
	e.GET("/specs/:id", s.getSpec)
	e.PUT("/specs/:id", s.updateSpec)
	e.POST("/specs/:id/publish", s.publishSpec)
	e.POST("/specs/:id/deprecate", s.deprecateSpec)
	e.POST("/specs/:id/delete", s.deleteSpec)
	e.GET("/specs/:id/versions/:version", s.getSpecVersion)
	e.GET("/health", s.health)

	s.echo = e
	return s
}

// Name implements runner.Service.
func (s *Server) Name() string {
	return "rest-api"
}

// Start binds the listener and serves in the background. Returning
// after a successful bind means the port is ready for requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.echo.Listener = ln

	s.logger.Info("rest api listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rest api serve failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Addr returns the bound address, empty before Start. Useful when the
// configured address has port 0.
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return ""
	}
	return s.echo.Listener.Addr().String()
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
				slog.String("request_id", v.RequestID),
			}
			if id := observability.TraceID(c.Request().Context()); id != "" {
				attrs = append(attrs, slog.String("trace_id", id))
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
