// Package middleware provides the cross-cutting command bus layers:
// logging, panic recovery, tracing, and metrics.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/navicore/spec-service/pkg/cqrs"
)

// Logging logs every command with its duration and outcome.
func Logging(logger *slog.Logger) cqrs.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next cqrs.HandlerFunc) cqrs.HandlerFunc {
		return func(ctx context.Context, cmd cqrs.Command) (any, error) {
			start := time.Now()

			logger.InfoContext(ctx, "executing command",
				slog.String("command_type", cmd.CommandType()),
			)

			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command failed",
					slog.String("command_type", cmd.CommandType()),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			logger.InfoContext(ctx, "command executed",
				slog.String("command_type", cmd.CommandType()),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return result, nil
		}
	}
}
