package eventstore_test

import (
	"context"
	"testing"

	"github.com/navicore/spec-service/pkg/eventstore"
)

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	checkpoints := eventstore.NewCheckpointStore(store.DB())

	t.Run("LoadWithoutSaveReturnsZero", func(t *testing.T) {
		position, err := checkpoints.Load(ctx, "never-seen")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 0 {
			t.Errorf("expected position 0 for fresh consumer, got %d", position)
		}
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		if err := checkpoints.Save(ctx, "spec_projection", 42); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		position, err := checkpoints.Load(ctx, "spec_projection")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 42 {
			t.Errorf("expected position 42, got %d", position)
		}
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		if err := checkpoints.Save(ctx, "spec_projection", 42); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if err := checkpoints.Save(ctx, "spec_projection", 99); err != nil {
			t.Fatalf("second save failed: %v", err)
		}

		position, err := checkpoints.Load(ctx, "spec_projection")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 99 {
			t.Errorf("expected position 99, got %d", position)
		}
	})

	t.Run("ConsumersAreIndependent", func(t *testing.T) {
		if err := checkpoints.Save(ctx, "nats_publisher", 7); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		position, err := checkpoints.Load(ctx, "spec_projection")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 99 {
			t.Errorf("other consumer's save leaked: got %d", position)
		}
	})

	t.Run("SaveInTxFollowsTransaction", func(t *testing.T) {
		db := store.DB()

		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if err := checkpoints.SaveInTx(ctx, tx, "tx-consumer", 10); err != nil {
			t.Fatalf("save in tx failed: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}

		position, err := checkpoints.Load(ctx, "tx-consumer")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 0 {
			t.Errorf("rolled back save is visible: position %d", position)
		}

		tx, err = db.Begin()
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if err := checkpoints.SaveInTx(ctx, tx, "tx-consumer", 10); err != nil {
			t.Fatalf("save in tx failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		position, err = checkpoints.Load(ctx, "tx-consumer")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 10 {
			t.Errorf("expected position 10 after commit, got %d", position)
		}
	})

	t.Run("DeleteResetsConsumer", func(t *testing.T) {
		if err := checkpoints.Save(ctx, "doomed", 5); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if err := checkpoints.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		position, err := checkpoints.Load(ctx, "doomed")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if position != 0 {
			t.Errorf("expected position 0 after delete, got %d", position)
		}
	})
}
