// Package config loads the service configuration from the
// environment. Every knob has a default; unparseable values fail
// startup with the offending variable named.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the service binary needs to start.
type Config struct {
	// DatabaseDSN is the normalized SQLite DSN (see normalizeDSN).
	DatabaseDSN string

	RESTAddr string
	GRPCAddr string

	ProjectionCache       bool
	ProcessorBatchSize    int
	ProcessorPollInterval time.Duration
	ProcessorErrorSleep   time.Duration

	EventBusEnabled bool
	// NATSURL is the broker address; empty runs the embedded server.
	NATSURL string
	// NATSCredentialsURL is a gocloud secrets URL holding encrypted
	// broker credentials; empty connects anonymously.
	NATSCredentialsURL string

	// OTLPEndpoint enables the OTLP exporters when non-empty.
	OTLPEndpoint string
	// MetricsDBExport mirrors metrics into the service database.
	MetricsDBExport bool

	LogLevel  slog.Level
	LogFormat string
}

// Load reads the environment and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:        normalizeDSN(envOr("DATABASE_URL", "sqlite:spec_service.db?mode=rwc")),
		RESTAddr:           envOr("REST_ADDR", "0.0.0.0:3000"),
		GRPCAddr:           envOr("GRPC_ADDR", "0.0.0.0:50051"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSCredentialsURL: os.Getenv("NATS_CREDENTIALS_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogFormat:          envOr("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.ProjectionCache, err = boolEnv("PROJECTION_CACHE", true); err != nil {
		return nil, err
	}
	if cfg.ProcessorBatchSize, err = intEnv("PROCESSOR_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.ProcessorBatchSize <= 0 {
		return nil, fmt.Errorf("PROCESSOR_BATCH_SIZE: must be positive, got %d", cfg.ProcessorBatchSize)
	}
	if cfg.ProcessorPollInterval, err = durationEnv("PROCESSOR_POLL_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ProcessorErrorSleep, err = durationEnv("PROCESSOR_ERROR_SLEEP", time.Second); err != nil {
		return nil, err
	}
	if cfg.EventBusEnabled, err = boolEnv("EVENTBUS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.MetricsDBExport, err = boolEnv("METRICS_DB_EXPORT", false); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = levelEnv("LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT: unknown format %q", cfg.LogFormat)
	}

	return cfg, nil
}

// Logger builds the process logger described by LogLevel and
// LogFormat, writing to stderr.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// normalizeDSN maps DATABASE_URL onto the DSN the sqlite driver
// expects: sqlite: and sqlite:// prefixes are stripped, as is the
// ?mode=rwc suffix legacy deployments carry. :memory: passes through.
func normalizeDSN(raw string) string {
	dsn := strings.TrimPrefix(raw, "sqlite://")
	dsn = strings.TrimPrefix(dsn, "sqlite:")
	return strings.TrimSuffix(dsn, "?mode=rwc")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: cannot parse %q as bool", key, v)
	}
	return parsed, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: cannot parse %q as integer", key, v)
	}
	return parsed, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: cannot parse %q as duration", key, v)
	}
	return parsed, nil
}

func levelEnv(key string, def slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%s: unknown level %q", key, v)
}
