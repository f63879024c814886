package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer runs an in-process NATS server with JetStream for
// single-binary deployments and tests.
type EmbeddedServer struct {
	server   *server.Server
	logger   *slog.Logger
	host     string
	port     int
	storeDir string
	token    string

	shutdownOnce sync.Once
}

// EmbeddedOption configures the embedded server.
type EmbeddedOption func(*EmbeddedServer)

// WithPort sets the listen port. The default -1 picks a random free
// port.
func WithPort(port int) EmbeddedOption {
	return func(s *EmbeddedServer) {
		s.port = port
	}
}

// WithStoreDir sets the JetStream storage directory. Empty uses a
// temp directory.
func WithStoreDir(dir string) EmbeddedOption {
	return func(s *EmbeddedServer) {
		s.storeDir = dir
	}
}

// WithAuthToken requires clients to authenticate with the token.
func WithAuthToken(token string) EmbeddedOption {
	return func(s *EmbeddedServer) {
		s.token = token
	}
}

// WithEmbeddedLogger sets the logger.
func WithEmbeddedLogger(logger *slog.Logger) EmbeddedOption {
	return func(s *EmbeddedServer) {
		s.logger = logger
	}
}

// NewEmbeddedServer builds the server; it does not listen until Start.
func NewEmbeddedServer(opts ...EmbeddedOption) *EmbeddedServer {
	s := &EmbeddedServer{
		host: "127.0.0.1",
		port: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name implements runner.Service.
func (s *EmbeddedServer) Name() string {
	return "nats-server"
}

// Start launches the server and waits until it accepts connections.
func (s *EmbeddedServer) Start(ctx context.Context) error {
	opts := &server.Options{
		Host:          s.host,
		Port:          s.port,
		JetStream:     true,
		StoreDir:      s.storeDir,
		Authorization: s.token,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create nats server: %w", err)
	}

	go srv.Start()

	wait := readyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if !srv.ReadyForConnections(wait) {
		srv.Shutdown()
		return fmt.Errorf("nats server not ready after %s", wait)
	}

	s.server = srv
	s.logger.Info("embedded nats server ready", slog.String("url", srv.ClientURL()))
	return nil
}

// Stop shuts the server down and waits for it to exit.
func (s *EmbeddedServer) Stop(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if s.server != nil {
			s.server.Shutdown()
			s.server.WaitForShutdown()
		}
	})
	return nil
}

// HealthCheck implements runner.HealthChecker.
func (s *EmbeddedServer) HealthCheck(ctx context.Context) error {
	if s.server == nil || !s.server.Running() {
		return fmt.Errorf("nats server not running")
	}
	return nil
}

// ClientURL returns the connection URL once Start has succeeded.
func (s *EmbeddedServer) ClientURL() string {
	if s.server == nil {
		return ""
	}
	return s.server.ClientURL()
}
