package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes every instrument this package creates.
const meterName = "specservice"

// Metrics holds the service's metric instruments.
type Metrics struct {
	CommandsTotal    metric.Int64Counter
	CommandDuration  metric.Float64Histogram
	EventsAppended   metric.Int64Counter
	ProjectionEvents metric.Int64Counter
	ProjectionLag    metric.Int64Gauge
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsTotal, err = meter.Int64Counter(
		"commands_total",
		metric.WithDescription("Commands executed, by type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands_total: %w", err)
	}

	m.CommandDuration, err = meter.Float64Histogram(
		"command_duration_ms",
		metric.WithDescription("Command execution duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command_duration_ms: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"events_appended_total",
		metric.WithDescription("Events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events_appended_total: %w", err)
	}

	m.ProjectionEvents, err = meter.Int64Counter(
		"projection_events_total",
		metric.WithDescription("Events folded into the read model"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection_events_total: %w", err)
	}

	m.ProjectionLag, err = meter.Int64Gauge(
		"projection_lag_events",
		metric.WithDescription("Events between the log head and the projection checkpoint"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection_lag_events: %w", err)
	}

	return m, nil
}

// RecordCommand records one command execution with its duration and
// outcome.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("command_type", commandType),
		attribute.Bool("success", err == nil),
	)
	m.CommandsTotal.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("command_type", commandType)))
}

// RecordAppend records events written to the store in one append.
func (m *Metrics) RecordAppend(ctx context.Context, count int) {
	m.EventsAppended.Add(ctx, int64(count))
}

// RecordProjection records a folded batch and the resulting lag behind
// the log head.
func (m *Metrics) RecordProjection(ctx context.Context, processed int, lag int64) {
	m.ProjectionEvents.Add(ctx, int64(processed))
	if lag < 0 {
		lag = 0
	}
	m.ProjectionLag.Record(ctx, lag)
}
