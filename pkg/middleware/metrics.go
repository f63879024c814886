package middleware

import (
	"context"
	"time"

	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/observability"
)

// Metrics counts and times every command by type.
func Metrics(m *observability.Metrics) cqrs.Middleware {
	return func(next cqrs.HandlerFunc) cqrs.HandlerFunc {
		return func(ctx context.Context, cmd cqrs.Command) (any, error) {
			start := time.Now()
			result, err := next(ctx, cmd)
			m.RecordCommand(ctx, cmd.CommandType(), time.Since(start), err)
			return result, err
		}
	}
}
