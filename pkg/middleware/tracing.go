package middleware

import (
	"context"
	"fmt"

	"github.com/navicore/spec-service/pkg/cqrs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps each command in an OpenTelemetry span named after the
// command type. Uses the global tracer provider.
func Tracing(tracerName string) cqrs.Middleware {
	if tracerName == "" {
		tracerName = "github.com/navicore/spec-service"
	}
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer, for tests and
// embedders that manage their own provider.
func TracingWithTracer(tracer trace.Tracer) cqrs.Middleware {
	return func(next cqrs.HandlerFunc) cqrs.HandlerFunc {
		return func(ctx context.Context, cmd cqrs.Command) (any, error) {
			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", cmd.CommandType()),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("command.type", cmd.CommandType()),
				),
			)
			defer span.End()

			result, err := next(spanCtx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetStatus(codes.Ok, "command executed")
			return result, nil
		}
	}
}
