package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/navicore/spec-service/pkg/cqrs"
)

// Recovery converts handler panics into errors so one bad command
// cannot take down the API surface. The stack is logged, not returned.
func Recovery(logger *slog.Logger) cqrs.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next cqrs.HandlerFunc) cqrs.HandlerFunc {
		return func(ctx context.Context, cmd cqrs.Command) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("command_type", cmd.CommandType()),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					result = nil
					err = fmt.Errorf("command handler panicked: %v", r)
				}
			}()

			return next(ctx, cmd)
		}
	}
}
