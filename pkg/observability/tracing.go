package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOption configures a span at start.
type SpanOption func(trace.Span)

// WithAttributes adds attributes to the span.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(span trace.Span) {
		span.SetAttributes(attrs...)
	}
}

// StartSpan starts a span and returns the context carrying it.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...SpanOption) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	for _, opt := range opts {
		opt(span)
	}
	return ctx, span
}

// EndSpan ends the span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SetSpanError records an error on the span in ctx, if any.
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the current trace ID, or "" outside a sampled trace.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// Span attribute keys shared across the service.
var (
	AttrSpecID     = attribute.Key("spec.id")
	AttrEventCount = attribute.Key("event.count")
	AttrPosition   = attribute.Key("log.position")
)
