package handlers

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/projection"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SpecList is one page of spec summaries.
type SpecList struct {
	Specs  []projection.SpecSummary
	Total  int
	Limit  int
	Offset int
}

// QueryHandler serves reads from the projection store, falling back to
// event replay for point lookups the projector has not reached yet.
type QueryHandler struct {
	projections *projection.Store
	events      *eventstore.Store
	logger      *slog.Logger
}

// NewQueryHandler wires the query side to both stores.
func NewQueryHandler(projections *projection.Store, events *eventstore.Store, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{projections: projections, events: events, logger: logger}
}

// GetSpec returns the current state of one spec. A projection miss
// replays the event stream so a caller can read its own write before
// the projector catches up.
func (h *QueryHandler) GetSpec(ctx context.Context, id uuid.UUID) (*projection.SpecProjection, error) {
	p, err := h.projections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return h.replaySpec(ctx, id)
}

func (h *QueryHandler) replaySpec(ctx context.Context, id uuid.UUID) (*projection.SpecProjection, error) {
	envelopes, err := h.events.GetEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, &domain.NotFoundError{ID: id}
	}

	history := make([]domain.SpecEvent, len(envelopes))
	for i, env := range envelopes {
		history[i] = env.Event
	}
	spec, err := domain.SpecFromEvents(history)
	if err != nil {
		return nil, err
	}

	h.logger.DebugContext(ctx, "served spec from event replay",
		slog.String("spec_id", id.String()),
	)
	return &projection.SpecProjection{
		ID:          spec.ID,
		Name:        spec.Name.String(),
		Content:     spec.Content.String(),
		Description: spec.Description,
		Version:     spec.Version,
		State:       spec.State,
		CreatedAt:   spec.CreatedAt,
		UpdatedAt:   spec.UpdatedAt,
		CreatedBy:   spec.CreatedBy,
		UpdatedBy:   spec.UpdatedBy,
	}, nil
}

// GetSpecVersion returns one historical version from the read model.
func (h *QueryHandler) GetSpecVersion(ctx context.Context, id uuid.UUID, version uint32) (*projection.VersionRecord, error) {
	record, err := h.projections.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.NotFoundError{ID: id}
	}
	return record, nil
}

// GetSpecAtVersion serves a spec as of a historical version: that
// version's content and description over the spec's current metadata.
func (h *QueryHandler) GetSpecAtVersion(ctx context.Context, id uuid.UUID, version uint32) (*projection.SpecProjection, error) {
	current, err := h.GetSpec(ctx, id)
	if err != nil {
		return nil, err
	}

	record, err := h.projections.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.NotFoundError{ID: id}
	}

	view := *current
	view.Content = record.Content
	view.Version = record.Version
	if record.Description != nil {
		view.Description = record.Description
	}
	return &view, nil
}

// ListSpecs returns a page of summaries. Limits are clamped to
// [1, 100] with a default of 20; no state filter excludes deleted
// specs.
func (h *QueryHandler) ListSpecs(ctx context.Context, state *domain.SpecState, limit, offset int) (*SpecList, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	summaries, err := h.projections.ListByState(ctx, state, limit, offset)
	if err != nil {
		return nil, err
	}
	return &SpecList{
		Specs:  summaries,
		Total:  len(summaries),
		Limit:  limit,
		Offset: offset,
	}, nil
}

// GetSpecHistory returns the spec's full event stream in order.
func (h *QueryHandler) GetSpecHistory(ctx context.Context, id uuid.UUID) ([]domain.EventEnvelope, error) {
	envelopes, err := h.events.GetEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, &domain.NotFoundError{ID: id}
	}
	return envelopes, nil
}
