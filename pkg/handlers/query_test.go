package handlers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/projection"
)

// projectAll drains the event feed into the read model, standing in
// for the background processor.
func projectAll(t *testing.T, store *eventstore.Store, projections *projection.Store) {
	t.Helper()
	ctx := context.Background()
	events, err := store.GetAllEvents(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("get all events failed: %v", err)
	}
	tx, err := store.DB().Begin()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer tx.Rollback()
	for _, env := range events {
		if err := projections.ApplyEvent(ctx, tx, env); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestGetSpec(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	commands := handlers.NewCommandHandler(store, nil)
	queries := handlers.NewQueryHandler(projections, store, nil)

	t.Run("ServesProjection", func(t *testing.T) {
		id := mustCreate(t, commands, "projected")
		projectAll(t, store, projections)

		spec, err := queries.GetSpec(ctx, id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if spec.Name != "projected" || spec.Version != 1 || spec.State != domain.StateDraft {
			t.Errorf("unexpected spec: %+v", spec)
		}
	})

	t.Run("FallsBackToReplayBeforeProjection", func(t *testing.T) {
		// No projectAll here: the projector has not seen this spec.
		id := mustCreate(t, commands, "unprojected")
		if _, err := commands.HandleUpdate(ctx, domain.UpdateSpec{
			SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
		}); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		spec, err := queries.GetSpec(ctx, id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if spec.Version != 2 || spec.Content != "a: 2" {
			t.Errorf("replay fallback wrong: %+v", spec)
		}
	})

	t.Run("UnknownSpecIsNotFound", func(t *testing.T) {
		_, err := queries.GetSpec(ctx, uuid.New())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestGetSpecVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	commands := handlers.NewCommandHandler(store, nil)
	queries := handlers.NewQueryHandler(projections, store, nil)

	id := mustCreate(t, commands, "versioned")
	if _, err := commands.HandleUpdate(ctx, domain.UpdateSpec{
		SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	projectAll(t, store, projections)

	t.Run("ReturnsHistoricalContent", func(t *testing.T) {
		record, err := queries.GetSpecVersion(ctx, id, 1)
		if err != nil {
			t.Fatalf("get version failed: %v", err)
		}
		if record.Content != "kind: Pipeline" {
			t.Errorf("expected v1 content, got %q", record.Content)
		}
	})

	t.Run("MissingVersionIsNotFound", func(t *testing.T) {
		_, err := queries.GetSpecVersion(ctx, id, 9)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestGetSpecAtVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	commands := handlers.NewCommandHandler(store, nil)
	queries := handlers.NewQueryHandler(projections, store, nil)

	id := mustCreate(t, commands, "time-travel")
	if _, err := commands.HandleUpdate(ctx, domain.UpdateSpec{
		SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := commands.HandlePublish(ctx, domain.PublishSpec{
		SpecID: id, PublishedBy: "admin@example.com",
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	projectAll(t, store, projections)

	view, err := queries.GetSpecAtVersion(ctx, id, 1)
	if err != nil {
		t.Fatalf("get at version failed: %v", err)
	}
	// Historical content, current metadata.
	if view.Content != "kind: Pipeline" || view.Version != 1 {
		t.Errorf("expected v1 content, got v%d %q", view.Version, view.Content)
	}
	if view.State != domain.StatePublished {
		t.Errorf("expected current state published, got %s", view.State)
	}
	if view.Name != "time-travel" {
		t.Errorf("expected current name, got %q", view.Name)
	}
}

func TestListSpecs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	commands := handlers.NewCommandHandler(store, nil)
	queries := handlers.NewQueryHandler(projections, store, nil)

	for _, name := range []string{"list-a", "list-b", "list-c"} {
		mustCreate(t, commands, name)
	}
	deleted := mustCreate(t, commands, "list-gone")
	if _, err := commands.HandleDelete(ctx, domain.DeleteSpec{
		SpecID: deleted, DeletedBy: "admin@example.com",
	}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	projectAll(t, store, projections)

	t.Run("DefaultExcludesDeleted", func(t *testing.T) {
		list, err := queries.ListSpecs(ctx, nil, 0, 0)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if list.Total != 3 || len(list.Specs) != 3 {
			t.Errorf("expected 3 live specs, got %d", list.Total)
		}
		if list.Limit != 20 || list.Offset != 0 {
			t.Errorf("expected default paging, got limit %d offset %d", list.Limit, list.Offset)
		}
	})

	t.Run("ClampsLimit", func(t *testing.T) {
		list, err := queries.ListSpecs(ctx, nil, 500, -3)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if list.Limit != 100 {
			t.Errorf("expected limit clamped to 100, got %d", list.Limit)
		}
		if list.Offset != 0 {
			t.Errorf("expected offset clamped to 0, got %d", list.Offset)
		}
	})

	t.Run("FiltersByState", func(t *testing.T) {
		state := domain.StateDeleted
		list, err := queries.ListSpecs(ctx, &state, 0, 0)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if list.Total != 1 || list.Specs[0].Name != "list-gone" {
			t.Errorf("expected only deleted spec, got %+v", list.Specs)
		}
	})
}

func TestGetSpecHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	projections := projection.NewStore(store.DB())
	commands := handlers.NewCommandHandler(store, nil)
	queries := handlers.NewQueryHandler(projections, store, nil)

	id := mustCreate(t, commands, "storied")
	if _, err := commands.HandleUpdate(ctx, domain.UpdateSpec{
		SpecID: id, Content: "a: 2", UpdatedBy: "user@example.com",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := commands.HandlePublish(ctx, domain.PublishSpec{
		SpecID: id, PublishedBy: "admin@example.com",
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	history, err := queries.GetSpecHistory(ctx, id)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 events, got %d", len(history))
	}
	types := []string{
		history[0].Event.EventType(),
		history[1].Event.EventType(),
		history[2].Event.EventType(),
	}
	want := []string{domain.EventTypeCreated, domain.EventTypeUpdated, domain.EventTypeStateChanged}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	_, err = queries.GetSpecHistory(ctx, uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown spec, got %v", err)
	}
}
