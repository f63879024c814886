package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/projection"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startProcessor(t *testing.T, events *eventstore.Store, store *projection.Store) *projection.Processor {
	t.Helper()
	checkpoints := eventstore.NewCheckpointStore(events.DB())
	processor := projection.NewProcessor(events, store, checkpoints,
		projection.WithPollInterval(10*time.Millisecond),
	)
	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := processor.Stop(stopCtx); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	})
	return processor
}

func TestProcessorCatchesUp(t *testing.T) {
	ctx := context.Background()
	events, store := newTestStores(t)
	id := uuid.New()

	// Events appended before the processor starts.
	if _, err := events.AppendEvents(ctx, id, 0, []domain.SpecEvent{
		&domain.SpecCreated{
			SpecID: id, Name: "catch-up", Content: "a: 1",
			CreatedBy: "user@example.com", CreatedAt: time.Now().UTC(),
		},
		&domain.SpecUpdated{
			SpecID: id, Version: 2, Content: "a: 2",
			UpdatedBy: "user@example.com", UpdatedAt: time.Now().UTC(),
		},
	}, domain.EventMetadata{}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	startProcessor(t, events, store)

	waitFor(t, 5*time.Second, func() bool {
		p, err := store.GetByID(ctx, id)
		return err == nil && p != nil && p.Version == 2
	})

	// And events appended while it runs.
	if _, err := events.AppendEvents(ctx, id, 2, []domain.SpecEvent{
		&domain.SpecStateChanged{
			SpecID: id, Version: 2,
			FromState: domain.StateDraft, ToState: domain.StatePublished,
			ChangedBy: "admin@example.com", ChangedAt: time.Now().UTC(),
		},
	}, domain.EventMetadata{}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		p, err := store.GetByID(ctx, id)
		return err == nil && p != nil && p.State == domain.StatePublished
	})
}

func TestProcessorResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	events, store := newTestStores(t)
	checkpoints := eventstore.NewCheckpointStore(events.DB())
	id := uuid.New()

	if _, err := events.AppendEvents(ctx, id, 0, []domain.SpecEvent{
		&domain.SpecCreated{
			SpecID: id, Name: "resumable", Content: "r: 1",
			CreatedBy: "user@example.com", CreatedAt: time.Now().UTC(),
		},
	}, domain.EventMetadata{}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	first := projection.NewProcessor(events, store, checkpoints,
		projection.WithPollInterval(10*time.Millisecond),
	)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		position, err := checkpoints.Load(ctx, projection.CheckpointName)
		return err == nil && position == 1
	})
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := first.Stop(stopCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	cancel()

	// More history lands while the processor is down.
	if _, err := events.AppendEvents(ctx, id, 1, []domain.SpecEvent{
		&domain.SpecUpdated{
			SpecID: id, Version: 2, Content: "r: 2",
			UpdatedBy: "user@example.com", UpdatedAt: time.Now().UTC(),
		},
	}, domain.EventMetadata{}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	second := projection.NewProcessor(events, store, checkpoints,
		projection.WithPollInterval(10*time.Millisecond),
	)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		second.Stop(stopCtx)
	}()

	waitFor(t, 5*time.Second, func() bool {
		p, err := store.GetByID(ctx, id)
		return err == nil && p != nil && p.Version == 2
	})

	position, err := checkpoints.Load(ctx, projection.CheckpointName)
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}
	if position != 2 {
		t.Errorf("expected checkpoint 2, got %d", position)
	}
}

func TestProcessorStopIsIdempotent(t *testing.T) {
	events, store := newTestStores(t)
	checkpoints := eventstore.NewCheckpointStore(events.DB())
	processor := projection.NewProcessor(events, store, checkpoints)

	// Stop before start is a no-op.
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("stop before start failed: %v", err)
	}

	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	events, store := newTestStores(t)
	checkpoints := eventstore.NewCheckpointStore(events.DB())
	id := uuid.New()

	if _, err := events.AppendEvents(ctx, id, 0, []domain.SpecEvent{
		&domain.SpecCreated{
			SpecID: id, Name: "rebuilt", Content: "b: 1",
			CreatedBy: "user@example.com", CreatedAt: time.Now().UTC(),
		},
		&domain.SpecUpdated{
			SpecID: id, Version: 2, Content: "b: 2",
			UpdatedBy: "user@example.com", UpdatedAt: time.Now().UTC(),
		},
		&domain.SpecStateChanged{
			SpecID: id, Version: 2,
			FromState: domain.StateDraft, ToState: domain.StatePublished,
			ChangedBy: "admin@example.com", ChangedAt: time.Now().UTC(),
		},
	}, domain.EventMetadata{}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	processor := projection.NewProcessor(events, store, checkpoints,
		projection.WithPollInterval(10*time.Millisecond),
	)
	if err := processor.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		p, err := store.GetByID(ctx, id)
		return err == nil && p != nil && p.State == domain.StatePublished
	})
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	cancel()

	// Corrupt the read model, then rebuild from the log.
	if _, err := events.DB().Exec(
		`UPDATE spec_projections SET content = 'corrupted' WHERE id = ?`, id.String(),
	); err != nil {
		t.Fatalf("corrupt failed: %v", err)
	}

	if err := processor.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	p, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p == nil || p.Content != "b: 2" || p.Version != 2 || p.State != domain.StatePublished {
		t.Errorf("rebuild did not converge: %+v", p)
	}

	position, err := checkpoints.Load(ctx, projection.CheckpointName)
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}
	if position != 3 {
		t.Errorf("expected checkpoint 3 after rebuild, got %d", position)
	}
}
