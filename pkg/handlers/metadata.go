// Package handlers implements the command and query sides of the spec
// service. Command handlers load aggregates from the event store and
// append the events they emit; query handlers read projections with an
// event-store fallback for fresh writes.
package handlers

import (
	"context"

	"github.com/navicore/spec-service/pkg/domain"
)

type metadataKey struct{}

// WithMetadata attaches request-scoped event metadata to the context.
// The API layers call this; command handlers read it back when
// appending.
func WithMetadata(ctx context.Context, meta domain.EventMetadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, meta)
}

// MetadataFromContext returns the attached metadata, zero when none.
func MetadataFromContext(ctx context.Context) domain.EventMetadata {
	meta, _ := ctx.Value(metadataKey{}).(domain.EventMetadata)
	return meta
}
