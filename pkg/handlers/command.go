package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
)

// maxRetries bounds the reload-and-retry loop on concurrency
// conflicts. Conflicts are rare and transient; three attempts is
// enough to absorb a racing writer without hiding a livelock.
const maxRetries = 3

// CreateResult is the outcome of a successful create.
type CreateResult struct {
	ID      uuid.UUID
	Version uint32
}

// UpdateResult carries the version assigned by an update.
type UpdateResult struct {
	Version uint32
}

// PublishResult carries the version that went live.
type PublishResult struct {
	PublishedVersion uint32
}

// DeprecateResult reports a completed deprecation.
type DeprecateResult struct {
	Success bool
}

// DeleteResult reports a completed deletion.
type DeleteResult struct {
	Success bool
}

// CommandHandler executes spec commands against the event store.
// Results are computed from the emitted events, never from
// projections, so they are correct before the projector catches up.
type CommandHandler struct {
	events *eventstore.Store
	logger *slog.Logger
}

// NewCommandHandler wires the command side to the event store.
func NewCommandHandler(events *eventstore.Store, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{events: events, logger: logger}
}

// Register binds all spec commands on the bus.
func (h *CommandHandler) Register(bus *cqrs.Bus) {
	bus.Register(domain.CommandCreateSpec, func(ctx context.Context, cmd cqrs.Command) (any, error) {
		c, ok := cmd.(domain.CreateSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", cmd, domain.CommandCreateSpec)
		}
		return h.HandleCreate(ctx, c)
	})
	bus.Register(domain.CommandUpdateSpec, func(ctx context.Context, cmd cqrs.Command) (any, error) {
		c, ok := cmd.(domain.UpdateSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", cmd, domain.CommandUpdateSpec)
		}
		return h.HandleUpdate(ctx, c)
	})
	bus.Register(domain.CommandPublishSpec, func(ctx context.Context, cmd cqrs.Command) (any, error) {
		c, ok := cmd.(domain.PublishSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", cmd, domain.CommandPublishSpec)
		}
		return h.HandlePublish(ctx, c)
	})
	bus.Register(domain.CommandDeprecateSpec, func(ctx context.Context, cmd cqrs.Command) (any, error) {
		c, ok := cmd.(domain.DeprecateSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", cmd, domain.CommandDeprecateSpec)
		}
		return h.HandleDeprecate(ctx, c)
	})
	bus.Register(domain.CommandDeleteSpec, func(ctx context.Context, cmd cqrs.Command) (any, error) {
		c, ok := cmd.(domain.DeleteSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T for %s", cmd, domain.CommandDeleteSpec)
		}
		return h.HandleDelete(ctx, c)
	})
}

// HandleCreate validates and appends the creation event. The name
// claim inside the append rejects duplicates atomically.
func (h *CommandHandler) HandleCreate(ctx context.Context, cmd domain.CreateSpec) (*CreateResult, error) {
	events, err := domain.Create(cmd)
	if err != nil {
		return nil, err
	}

	meta := MetadataFromContext(ctx)
	if meta.CorrelationID == nil {
		correlation := uuid.New()
		meta.CorrelationID = &correlation
	}

	specID := events[0].AggregateID()
	if _, err := h.events.AppendEvents(ctx, specID, 0, events, meta); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "spec created",
		slog.String("spec_id", specID.String()),
		slog.String("name", cmd.Name),
	)
	return &CreateResult{ID: specID, Version: 1}, nil
}

// HandleUpdate appends a content revision and returns the new version.
func (h *CommandHandler) HandleUpdate(ctx context.Context, cmd domain.UpdateSpec) (*UpdateResult, error) {
	emitted, err := h.executeOnSpec(ctx, cmd.SpecID, cmd)
	if err != nil {
		return nil, err
	}

	updated, ok := emitted[0].(*domain.SpecUpdated)
	if !ok {
		return nil, fmt.Errorf("update emitted %T", emitted[0])
	}
	return &UpdateResult{Version: uint32(updated.Version)}, nil
}

// HandlePublish transitions draft->published.
func (h *CommandHandler) HandlePublish(ctx context.Context, cmd domain.PublishSpec) (*PublishResult, error) {
	emitted, err := h.executeOnSpec(ctx, cmd.SpecID, cmd)
	if err != nil {
		return nil, err
	}

	changed, ok := emitted[0].(*domain.SpecStateChanged)
	if !ok {
		return nil, fmt.Errorf("publish emitted %T", emitted[0])
	}
	return &PublishResult{PublishedVersion: uint32(changed.Version)}, nil
}

// HandleDeprecate transitions published->deprecated.
func (h *CommandHandler) HandleDeprecate(ctx context.Context, cmd domain.DeprecateSpec) (*DeprecateResult, error) {
	if _, err := h.executeOnSpec(ctx, cmd.SpecID, cmd); err != nil {
		return nil, err
	}
	return &DeprecateResult{Success: true}, nil
}

// HandleDelete transitions into the terminal deleted state, releasing
// the spec's name.
func (h *CommandHandler) HandleDelete(ctx context.Context, cmd domain.DeleteSpec) (*DeleteResult, error) {
	if _, err := h.executeOnSpec(ctx, cmd.SpecID, cmd); err != nil {
		return nil, err
	}
	return &DeleteResult{Success: true}, nil
}

// executeOnSpec replays the aggregate, runs the command, and appends
// the emitted events with optimistic concurrency. A conflicting append
// reloads and retries against the fresh state.
func (h *CommandHandler) executeOnSpec(ctx context.Context, specID uuid.UUID, cmd domain.Command) ([]domain.SpecEvent, error) {
	meta := MetadataFromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		loaded, err := h.events.GetEvents(ctx, specID, 0)
		if err != nil {
			return nil, err
		}
		if len(loaded) == 0 {
			return nil, &domain.NotFoundError{ID: specID}
		}

		history := make([]domain.SpecEvent, len(loaded))
		for i, env := range loaded {
			history[i] = env.Event
		}
		spec, err := domain.SpecFromEvents(history)
		if err != nil {
			return nil, err
		}

		emitted, err := spec.HandleCommand(cmd)
		if err != nil {
			return nil, err
		}

		_, err = h.events.AppendEvents(ctx, specID, int64(len(loaded)), emitted, meta)
		if err == nil {
			return emitted, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}

		lastErr = err
		h.logger.WarnContext(ctx, "append conflict, retrying",
			slog.String("spec_id", specID.String()),
			slog.String("command_type", cmd.CommandType()),
			slog.Int("attempt", attempt),
		)
	}
	return nil, lastErr
}
