package eventstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/navicore/spec-service/pkg/domain"
)

// CheckpointStore persists per-consumer positions in the global event
// feed. SaveInTx lets a projector commit its checkpoint atomically
// with the batch it applied.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore wraps an existing database handle. The handle is
// shared with the event store so checkpoints live in the same file.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Save upserts the consumer's position.
func (s *CheckpointStore) Save(ctx context.Context, name string, position int64) error {
	return saveCheckpoint(ctx, s.db, name, position)
}

// SaveInTx upserts the consumer's position inside the caller's
// transaction.
func (s *CheckpointStore) SaveInTx(ctx context.Context, tx *sql.Tx, name string, position int64) error {
	return saveCheckpoint(ctx, tx, name, position)
}

// Load returns the consumer's saved position, 0 when none exists.
func (s *CheckpointStore) Load(ctx context.Context, name string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM projector_checkpoints WHERE projector_name = ?`, name,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &domain.StoreError{Op: "load checkpoint", Err: err}
	}
	return position, nil
}

// Delete removes the consumer's checkpoint so it restarts from the
// beginning of the feed.
func (s *CheckpointStore) Delete(ctx context.Context, name string) error {
	return deleteCheckpoint(ctx, s.db, name)
}

// DeleteInTx removes the checkpoint inside the caller's transaction.
func (s *CheckpointStore) DeleteInTx(ctx context.Context, tx *sql.Tx, name string) error {
	return deleteCheckpoint(ctx, tx, name)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveCheckpoint(ctx context.Context, e execer, name string, position int64) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO projector_checkpoints (projector_name, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(projector_name) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at
	`, name, position, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &domain.StoreError{Op: "save checkpoint", Err: err}
	}
	return nil
}

func deleteCheckpoint(ctx context.Context, e execer, name string) error {
	if _, err := e.ExecContext(ctx,
		`DELETE FROM projector_checkpoints WHERE projector_name = ?`, name,
	); err != nil {
		return &domain.StoreError{Op: "delete checkpoint", Err: err}
	}
	return nil
}
