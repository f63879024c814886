package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/handlers"
)

// Server serves the SpecService procedures over h2c so HTTP/2 clients
// work without TLS. It implements runner.Service: Start binds the
// listener before returning, Stop drains in-flight requests.
type Server struct {
	service  *Service
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	addr     string
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithAddr sets the listen address. Defaults to ":50051".
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

// NewServer registers every procedure on an h2c mux.
func NewServer(bus *cqrs.Bus, queries *handlers.QueryHandler, opts ...ServerOption) *Server {
	s := &Server{
		addr: ":50051",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.service = NewService(bus, queries, s.logger)

	codec := connect.WithCodec(jsonCodec{})
	mux := http.NewServeMux()
	mux.Handle(SpecServiceCreateSpecProcedure, connect.NewUnaryHandler(
		SpecServiceCreateSpecProcedure, s.service.CreateSpec, codec))
	mux.Handle(SpecServiceGetSpecProcedure, connect.NewUnaryHandler(
		SpecServiceGetSpecProcedure, s.service.GetSpec, codec))
	mux.Handle(SpecServiceUpdateSpecProcedure, connect.NewUnaryHandler(
		SpecServiceUpdateSpecProcedure, s.service.UpdateSpec, codec))
	mux.Handle(SpecServiceListSpecsProcedure, connect.NewUnaryHandler(
		SpecServiceListSpecsProcedure, s.service.ListSpecs, codec))
	mux.Handle(SpecServicePublishSpecProcedure, connect.NewUnaryHandler(
		SpecServicePublishSpecProcedure, s.service.PublishSpec, codec))
	mux.Handle(SpecServiceDeprecateSpecProcedure, connect.NewUnaryHandler(
		SpecServiceDeprecateSpecProcedure, s.service.DeprecateSpec, codec))
	mux.Handle(SpecServiceDeleteSpecProcedure, connect.NewUnaryHandler(
		SpecServiceDeleteSpecProcedure, s.service.DeleteSpec, codec))
	mux.Handle(SpecServiceGetSpecHistoryProcedure, connect.NewUnaryHandler(
		SpecServiceGetSpecHistoryProcedure, s.service.GetSpecHistory, codec))

	s.server = &http.Server{
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}
	return s
}

// Name implements runner.Service.
func (s *Server) Name() string {
	return "rpc-api"
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.Info("rpc api listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc api serve failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
