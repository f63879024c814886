// Package observability wires OpenTelemetry tracing and metrics with
// graceful degradation: signals left unconfigured become no-ops so the
// service runs the same with or without a collector.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config selects the exporters and identifies the service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// TraceExporter receives batched spans. Nil disables tracing.
	TraceExporter sdktrace.SpanExporter

	// TraceSampleRate is the fraction of traces sampled, 0 to 1.
	TraceSampleRate float64

	// MetricReaders collect the instruments; each gets every point.
	// Empty disables metrics.
	MetricReaders []sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry is the initialized stack. Metrics is nil when no metric
// reader was configured; callers must check before recording.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	shutdown []func(context.Context) error
}

// Init builds tracer and meter providers, installs them globally, and
// sets W3C trace context propagation. A signal that fails to set up
// degrades to a no-op instead of failing startup.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tel := &Telemetry{Logger: cfg.Logger}

	if cfg.TraceExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sampler(cfg.TraceSampleRate)),
		)
		tel.TracerProvider = tp
		tel.shutdown = append(tel.shutdown, tp.Shutdown)
		otel.SetTracerProvider(tp)
		cfg.Logger.Info("tracing initialized", slog.String("service", cfg.ServiceName))
	} else {
		tel.TracerProvider = tracenoop.NewTracerProvider()
		cfg.Logger.Info("tracing disabled, no exporter configured")
	}

	if len(cfg.MetricReaders) > 0 {
		mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, reader := range cfg.MetricReaders {
			mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
		}
		mp := sdkmetric.NewMeterProvider(mpOpts...)
		metrics, err := NewMetrics(mp.Meter(meterName))
		if err != nil {
			cfg.Logger.Warn("metrics setup failed, continuing without metrics",
				slog.String("error", err.Error()))
		} else {
			tel.MeterProvider = mp
			tel.Metrics = metrics
			tel.shutdown = append(tel.shutdown, mp.Shutdown)
			otel.SetMeterProvider(mp)
			cfg.Logger.Info("metrics initialized", slog.String("service", cfg.ServiceName))
		}
	}
	if tel.MeterProvider == nil {
		// A readerless provider records nothing but stays callable.
		tel.MeterProvider = sdkmetric.NewMeterProvider()
		cfg.Logger.Info("metrics disabled, no reader configured")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tel, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes and stops every provider Init configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, stop := range t.shutdown {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracer returns a tracer from the installed provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Meter returns a meter from the installed provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}
