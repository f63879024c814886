package handlers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/projection"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	store, err := eventstore.New(
		eventstore.WithDSN(":memory:"),
		eventstore.WithWALMode(false),
	)
	if err != nil {
		t.Fatalf("failed to create event store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, h *handlers.CommandHandler, name string) uuid.UUID {
	t.Helper()
	result, err := h.HandleCreate(context.Background(), domain.CreateSpec{
		Name:      name,
		Content:   "kind: Pipeline",
		CreatedBy: "user@example.com",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return result.ID
}

func TestHandleCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := handlers.NewCommandHandler(store, nil)

	t.Run("ReturnsIDAndVersionOne", func(t *testing.T) {
		result, err := h.HandleCreate(ctx, domain.CreateSpec{
			Name:      "build-pipeline",
			Content:   "kind: Pipeline",
			CreatedBy: "user@example.com",
		})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if result.ID == uuid.Nil {
			t.Error("expected assigned id")
		}
		if result.Version != 1 {
			t.Errorf("expected version 1, got %d", result.Version)
		}

		events, err := store.GetEvents(ctx, result.ID, 0)
		if err != nil {
			t.Fatalf("get events failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		created, ok := events[0].Event.(*domain.SpecCreated)
		if !ok {
			t.Fatalf("expected SpecCreated, got %T", events[0].Event)
		}
		if created.Name != "build-pipeline" {
			t.Errorf("unexpected name %q", created.Name)
		}
	})

	t.Run("RejectsInvalidName", func(t *testing.T) {
		_, err := h.HandleCreate(ctx, domain.CreateSpec{
			Name:      "spaces are bad",
			Content:   "kind: Pipeline",
			CreatedBy: "user@example.com",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("RejectsDuplicateName", func(t *testing.T) {
		mustCreate(t, h, "unique-name")
		_, err := h.HandleCreate(ctx, domain.CreateSpec{
			Name:      "unique-name",
			Content:   "kind: Pipeline",
			CreatedBy: "user@example.com",
		})
		if !errors.Is(err, domain.ErrDuplicateName) {
			t.Fatalf("expected duplicate name error, got %v", err)
		}
	})

	t.Run("AssignsCorrelationID", func(t *testing.T) {
		id := mustCreate(t, h, "with-correlation")
		events, err := store.GetEvents(ctx, id, 0)
		if err != nil {
			t.Fatalf("get events failed: %v", err)
		}
		if events[0].Metadata.CorrelationID == nil {
			t.Error("expected a fresh correlation id on create")
		}
	})

	t.Run("KeepsSuppliedMetadata", func(t *testing.T) {
		correlation := uuid.New()
		agent := "integration-test"
		ctx := handlers.WithMetadata(ctx, domain.EventMetadata{
			CorrelationID: &correlation,
			UserAgent:     &agent,
		})

		result, err := h.HandleCreate(ctx, domain.CreateSpec{
			Name:      "metadata-spec",
			Content:   "kind: Pipeline",
			CreatedBy: "user@example.com",
		})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		events, err := store.GetEvents(ctx, result.ID, 0)
		if err != nil {
			t.Fatalf("get events failed: %v", err)
		}
		meta := events[0].Metadata
		if meta.CorrelationID == nil || *meta.CorrelationID != correlation {
			t.Errorf("supplied correlation id lost: %v", meta.CorrelationID)
		}
		if meta.UserAgent == nil || *meta.UserAgent != agent {
			t.Errorf("user agent lost: %v", meta.UserAgent)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := handlers.NewCommandHandler(store, nil)

	t.Run("BumpsVersion", func(t *testing.T) {
		id := mustCreate(t, h, "updatable")

		result, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID:    id,
			Content:   "kind: Pipeline\nsteps: []",
			UpdatedBy: "user@example.com",
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if result.Version != 2 {
			t.Errorf("expected version 2, got %d", result.Version)
		}

		again, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID:    id,
			Content:   "kind: Pipeline\nsteps: [build]",
			UpdatedBy: "user@example.com",
		})
		if err != nil {
			t.Fatalf("second update failed: %v", err)
		}
		if again.Version != 3 {
			t.Errorf("expected version 3, got %d", again.Version)
		}
	})

	t.Run("UnknownSpecIsNotFound", func(t *testing.T) {
		_, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID:    uuid.New(),
			Content:   "a: 1",
			UpdatedBy: "user@example.com",
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("RejectsInvalidYAML", func(t *testing.T) {
		id := mustCreate(t, h, "yaml-checked")
		_, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID:    id,
			Content:   "key: [unclosed",
			UpdatedBy: "user@example.com",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("DeletedSpecRejectsUpdate", func(t *testing.T) {
		id := mustCreate(t, h, "gone")
		if _, err := h.HandleDelete(ctx, domain.DeleteSpec{SpecID: id, DeletedBy: "admin@example.com"}); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		_, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID:    id,
			Content:   "a: 1",
			UpdatedBy: "user@example.com",
		})
		var invalidState *domain.InvalidStateError
		if !errors.As(err, &invalidState) {
			t.Fatalf("expected invalid state error, got %v", err)
		}
	})
}

func TestHandlePublish(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := handlers.NewCommandHandler(store, nil)

	t.Run("PublishesDraft", func(t *testing.T) {
		id := mustCreate(t, h, "publishable")
		result, err := h.HandlePublish(ctx, domain.PublishSpec{
			SpecID:      id,
			PublishedBy: "admin@example.com",
		})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if result.PublishedVersion != 1 {
			t.Errorf("expected published version 1, got %d", result.PublishedVersion)
		}
	})

	t.Run("VersionGuardMatches", func(t *testing.T) {
		id := mustCreate(t, h, "guarded")
		if _, err := h.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
		}); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		version := uint32(2)
		result, err := h.HandlePublish(ctx, domain.PublishSpec{
			SpecID:      id,
			Version:     &version,
			PublishedBy: "admin@example.com",
		})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if result.PublishedVersion != 2 {
			t.Errorf("expected published version 2, got %d", result.PublishedVersion)
		}
	})

	t.Run("VersionGuardMismatch", func(t *testing.T) {
		id := mustCreate(t, h, "mismatched")
		stale := uint32(7)
		_, err := h.HandlePublish(ctx, domain.PublishSpec{
			SpecID:      id,
			Version:     &stale,
			PublishedBy: "admin@example.com",
		})
		var mismatch *domain.VersionMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected version mismatch, got %v", err)
		}
		if mismatch.Expected != 1 || mismatch.Actual != 7 {
			t.Errorf("unexpected mismatch detail: %+v", mismatch)
		}
	})

	t.Run("DoublePublishRejected", func(t *testing.T) {
		id := mustCreate(t, h, "already-live")
		if _, err := h.HandlePublish(ctx, domain.PublishSpec{SpecID: id, PublishedBy: "admin@example.com"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		_, err := h.HandlePublish(ctx, domain.PublishSpec{SpecID: id, PublishedBy: "admin@example.com"})
		var transition *domain.InvalidStateTransitionError
		if !errors.As(err, &transition) {
			t.Fatalf("expected invalid transition, got %v", err)
		}
		if transition.From != domain.StatePublished || transition.To != domain.StatePublished {
			t.Errorf("unexpected transition detail: %+v", transition)
		}
	})
}

func TestHandleDeprecateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := handlers.NewCommandHandler(store, nil)

	t.Run("DeprecatePublished", func(t *testing.T) {
		id := mustCreate(t, h, "sunsetting")
		if _, err := h.HandlePublish(ctx, domain.PublishSpec{SpecID: id, PublishedBy: "admin@example.com"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		result, err := h.HandleDeprecate(ctx, domain.DeprecateSpec{
			SpecID:       id,
			Reason:       "superseded by v2 API",
			DeprecatedBy: "admin@example.com",
		})
		if err != nil {
			t.Fatalf("deprecate failed: %v", err)
		}
		if !result.Success {
			t.Error("expected success")
		}

		events, err := store.GetEvents(ctx, id, 0)
		if err != nil {
			t.Fatalf("get events failed: %v", err)
		}
		last := events[len(events)-1].Event.(*domain.SpecStateChanged)
		if last.Reason == nil || *last.Reason != "superseded by v2 API" {
			t.Errorf("reason lost: %v", last.Reason)
		}
	})

	t.Run("DeprecateDraftRejected", func(t *testing.T) {
		id := mustCreate(t, h, "too-young")
		_, err := h.HandleDeprecate(ctx, domain.DeprecateSpec{
			SpecID:       id,
			Reason:       "never lived",
			DeprecatedBy: "admin@example.com",
		})
		var transition *domain.InvalidStateTransitionError
		if !errors.As(err, &transition) {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	})

	t.Run("DeleteFromAnyLiveState", func(t *testing.T) {
		for _, setup := range []struct {
			name    string
			publish bool
		}{
			{"draft-delete", false},
			{"published-delete", true},
		} {
			id := mustCreate(t, h, setup.name)
			if setup.publish {
				if _, err := h.HandlePublish(ctx, domain.PublishSpec{SpecID: id, PublishedBy: "admin@example.com"}); err != nil {
					t.Fatalf("publish failed: %v", err)
				}
			}
			result, err := h.HandleDelete(ctx, domain.DeleteSpec{SpecID: id, DeletedBy: "admin@example.com"})
			if err != nil {
				t.Fatalf("%s: delete failed: %v", setup.name, err)
			}
			if !result.Success {
				t.Errorf("%s: expected success", setup.name)
			}
		}
	})

	t.Run("DoubleDeleteRejected", func(t *testing.T) {
		id := mustCreate(t, h, "deleted-twice")
		if _, err := h.HandleDelete(ctx, domain.DeleteSpec{SpecID: id, DeletedBy: "admin@example.com"}); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		_, err := h.HandleDelete(ctx, domain.DeleteSpec{SpecID: id, DeletedBy: "admin@example.com"})
		var invalidState *domain.InvalidStateError
		if !errors.As(err, &invalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})
}

func TestRegisterWiresBus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := handlers.NewCommandHandler(store, nil)
	bus := cqrs.NewBus()
	h.Register(bus)

	result, err := bus.Send(ctx, domain.CreateSpec{
		Name:      "via-bus",
		Content:   "kind: Pipeline",
		CreatedBy: "user@example.com",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	created, ok := result.(*handlers.CreateResult)
	if !ok {
		t.Fatalf("expected *CreateResult, got %T", result)
	}

	updated, err := bus.Send(ctx, domain.UpdateSpec{
		SpecID:    created.ID,
		Content:   "kind: Pipeline\nsteps: []",
		UpdatedBy: "user@example.com",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if updated.(*handlers.UpdateResult).Version != 2 {
		t.Errorf("expected version 2 via bus, got %+v", updated)
	}
}

// Commands work whether or not a projector is running; the read model
// is strictly downstream.
func TestCommandsDoNotTouchProjections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	h := handlers.NewCommandHandler(store, nil)

	id := mustCreate(t, h, "projector-free")
	if _, err := h.HandleUpdate(ctx, domain.UpdateSpec{
		SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	p, err := projections.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p != nil {
		t.Errorf("command side wrote to projections: %+v", p)
	}
}
