// Command specd runs the spec service: SQLite event store, projection
// processor, REST and Connect RPC APIs, and the optional NATS event
// feed, all under one lifecycle runner.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/navicore/spec-service/pkg/api/rest"
	"github.com/navicore/spec-service/pkg/api/rpc"
	"github.com/navicore/spec-service/pkg/config"
	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/eventbus"
	"github.com/navicore/spec-service/pkg/eventbus/credentials"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/middleware"
	"github.com/navicore/spec-service/pkg/observability"
	"github.com/navicore/spec-service/pkg/projection"
	"github.com/navicore/spec-service/pkg/runner"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	// Local encryption backend for NATS credential documents. Cloud
	// KMS backends are added the same way.
	_ "gocloud.dev/secrets/localsecrets"
)

// version is injected at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("specd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()

	tel, metricsDB, err := initTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		if metricsDB != nil {
			metricsDB.Close()
		}
	}()

	storeOpts := []eventstore.Option{
		eventstore.WithDSN(cfg.DatabaseDSN),
		eventstore.WithLogger(logger),
	}
	if tel.Metrics != nil {
		storeOpts = append(storeOpts, eventstore.WithMetrics(tel.Metrics))
	}
	events, err := eventstore.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()

	checkpoints := eventstore.NewCheckpointStore(events.DB())
	projections := projection.NewStore(events.DB(),
		projection.WithCache(cfg.ProjectionCache),
		projection.WithLogger(logger),
	)

	processorOpts := []projection.ProcessorOption{
		projection.WithBatchSize(cfg.ProcessorBatchSize),
		projection.WithPollInterval(cfg.ProcessorPollInterval),
		projection.WithErrorSleep(cfg.ProcessorErrorSleep),
		projection.WithProcessorLogger(logger),
	}
	if tel.Metrics != nil {
		processorOpts = append(processorOpts, projection.WithProcessorMetrics(tel.Metrics))
	}
	processor := projection.NewProcessor(events, projections, checkpoints, processorOpts...)

	commands := handlers.NewCommandHandler(events, logger)
	queries := handlers.NewQueryHandler(projections, events, logger)

	bus := cqrs.NewBus()
	busMiddleware := []cqrs.Middleware{
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Tracing("github.com/navicore/spec-service"),
	}
	if tel.Metrics != nil {
		busMiddleware = append(busMiddleware, middleware.Metrics(tel.Metrics))
	}
	bus.Use(busMiddleware...)
	commands.Register(bus)

	var services []runner.Service

	if cfg.EventBusEnabled {
		feed, err := eventFeedServices(ctx, cfg, logger, events, checkpoints)
		if err != nil {
			return err
		}
		services = append(services, feed...)
	}

	services = append(services,
		processor,
		rest.NewServer(bus, queries,
			rest.WithAddr(cfg.RESTAddr),
			rest.WithServerLogger(logger),
		),
		rpc.NewServer(bus, queries,
			rpc.WithAddr(cfg.GRPCAddr),
			rpc.WithServerLogger(logger),
		),
	)

	logger.Info("specd starting",
		slog.String("version", version),
		slog.String("rest_addr", cfg.RESTAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.Bool("eventbus", cfg.EventBusEnabled),
	)

	r := runner.New(services, runner.WithLogger(runner.NewSlogLogger(logger)))
	return r.Run(ctx)
}

// initTelemetry builds the exporter set the config asks for: OTLP
// when an endpoint is set, a SQLite metrics mirror when enabled. The
// returned DB handle, if any, must outlive the telemetry shutdown.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Telemetry, *sql.DB, error) {
	telCfg := observability.Config{
		ServiceName:     "spec-service",
		ServiceVersion:  version,
		TraceSampleRate: 1,
		Logger:          logger,
	}

	if cfg.OTLPEndpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		telCfg.TraceExporter = traceExporter

		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		telCfg.MetricReaders = append(telCfg.MetricReaders,
			sdkmetric.NewPeriodicReader(metricExporter))
	}

	var metricsDB *sql.DB
	if cfg.MetricsDBExport {
		// A dedicated handle keeps exporter writes off the event
		// store's pool.
		db, err := sql.Open("sqlite", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open metrics database: %w", err)
		}
		db.SetMaxOpenConns(1)

		exporter, err := observability.NewSQLiteMetricExporter(
			observability.DefaultSQLiteExporterConfig(db))
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create sqlite metric exporter: %w", err)
		}
		telCfg.MetricReaders = append(telCfg.MetricReaders,
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Minute)))
		metricsDB = db
	}

	tel, err := observability.Init(ctx, telCfg)
	if err != nil {
		if metricsDB != nil {
			metricsDB.Close()
		}
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	return tel, metricsDB, nil
}

// eventFeedServices assembles the NATS side: an embedded server when
// no URL is configured, credentials from the secret and environment
// providers, and the checkpointed publisher.
func eventFeedServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, events *eventstore.Store, checkpoints *eventstore.CheckpointStore) ([]runner.Service, error) {
	connectOpts, err := resolveNATSCredentials(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pubOpts := []eventbus.PublisherOption{
		eventbus.WithPublisherLogger(logger),
	}
	if len(connectOpts) > 0 {
		pubOpts = append(pubOpts, eventbus.WithConnectOptions(connectOpts...))
	}

	var services []runner.Service
	if cfg.NATSURL != "" {
		pubOpts = append(pubOpts, eventbus.WithURL(cfg.NATSURL))
	} else {
		embedded := eventbus.NewEmbeddedServer(eventbus.WithEmbeddedLogger(logger))
		services = append(services, embedded)
		pubOpts = append(pubOpts, eventbus.WithURLSource(embedded.ClientURL))
	}

	services = append(services, eventbus.NewPublisher(events, checkpoints, pubOpts...))
	return services, nil
}

// resolveNATSCredentials runs the provider chain once at startup. An
// empty result means the connection stays anonymous.
func resolveNATSCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]nats.Option, error) {
	var providers []credentials.Provider
	if cfg.NATSCredentialsURL != "" {
		secretProvider, err := credentials.NewSecretProvider(ctx, cfg.NATSCredentialsURL)
		if err != nil {
			return nil, fmt.Errorf("open nats credentials provider: %w", err)
		}
		defer secretProvider.Close()
		providers = append(providers, secretProvider)
	}
	providers = append(providers, credentials.EnvProvider{})

	creds, err := credentials.NewChainProvider(providers...).Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve nats credentials: %w", err)
	}
	if creds == nil {
		logger.Info("nats connection will be anonymous")
		return nil, nil
	}
	logger.Info("nats credentials resolved", slog.String("type", string(creds.Type)))
	return credentials.ConnectOptions(creds), nil
}
