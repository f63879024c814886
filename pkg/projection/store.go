// Package projection maintains the spec read model: a denormalized
// current-state table plus a version history table, built from the
// event log by a checkpointed processor.
package projection

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
)

// SpecProjection is the current state of one spec as seen by readers.
type SpecProjection struct {
	ID          uuid.UUID
	Name        string
	Content     string
	Description *string
	Version     domain.Version
	State       domain.SpecState
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	UpdatedBy   string
}

// SpecSummary is the list-view row: no content payload.
type SpecSummary struct {
	ID            uuid.UUID
	Name          string
	Description   *string
	LatestVersion domain.Version
	State         domain.SpecState
	UpdatedAt     time.Time
}

// VersionRecord is one historical version of a spec's content.
type VersionRecord struct {
	SpecID      uuid.UUID
	Version     domain.Version
	Content     string
	Description *string
	CreatedAt   time.Time
	CreatedBy   string
}

// Store reads and writes the projection tables. Writes run inside the
// processor's batch transaction; the optional cache is refreshed only
// after that transaction commits, so readers never see uncommitted
// rows.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	cacheEnabled bool

	mu    sync.RWMutex
	cache map[uuid.UUID]SpecProjection
}

// StoreOption configures the projection store.
type StoreOption func(*Store)

// WithCache enables the in-memory read cache for point lookups.
func WithCache(enabled bool) StoreOption {
	return func(s *Store) {
		s.cacheEnabled = enabled
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore wraps the shared database handle.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		cache: make(map[uuid.UUID]SpecProjection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ApplyEvent folds one stored event into the read model inside the
// caller's transaction. Applies are idempotent so a batch replayed
// after a crash converges to the same rows.
func (s *Store) ApplyEvent(ctx context.Context, tx *sql.Tx, env domain.EventEnvelope) error {
	switch e := env.Event.(type) {
	case *domain.SpecCreated:
		return s.applyCreated(ctx, tx, e)
	case *domain.SpecUpdated:
		return s.applyUpdated(ctx, tx, e)
	case *domain.SpecStateChanged:
		return s.applyStateChanged(ctx, tx, e)
	}
	// Unknown event types are skipped so old readers survive new
	// writers.
	s.logger.Warn("skipping unknown event type",
		slog.String("event_type", env.Event.EventType()),
		slog.Int64("position", env.GlobalPosition),
	)
	return nil
}

func (s *Store) applyCreated(ctx context.Context, tx *sql.Tx, e *domain.SpecCreated) error {
	at := e.CreatedAt.UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO spec_projections
			(id, name, content, description, version, state, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
	`, e.SpecID.String(), e.Name, e.Content, e.Description, domain.StateDraft, at, at, e.CreatedBy, e.CreatedBy)
	if err != nil {
		return &domain.ProjectionError{Op: "apply created", Err: err}
	}

	if err := insertHistory(ctx, tx, e.SpecID, 1, e.Content, e.Description, at, e.CreatedBy); err != nil {
		return err
	}
	return nil
}

func (s *Store) applyUpdated(ctx context.Context, tx *sql.Tx, e *domain.SpecUpdated) error {
	at := e.UpdatedAt.UTC().Format(time.RFC3339)
	// Nil description keeps the previous one, matching the aggregate.
	_, err := tx.ExecContext(ctx, `
		UPDATE spec_projections SET
			content = ?,
			description = COALESCE(?, description),
			version = ?,
			updated_at = ?,
			updated_by = ?
		WHERE id = ?
	`, e.Content, e.Description, int64(e.Version), at, e.UpdatedBy, e.SpecID.String())
	if err != nil {
		return &domain.ProjectionError{Op: "apply updated", Err: err}
	}

	if err := insertHistory(ctx, tx, e.SpecID, int64(e.Version), e.Content, e.Description, at, e.UpdatedBy); err != nil {
		return err
	}
	return nil
}

func (s *Store) applyStateChanged(ctx context.Context, tx *sql.Tx, e *domain.SpecStateChanged) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE spec_projections SET state = ?, updated_at = ? WHERE id = ?
	`, e.ToState, e.ChangedAt.UTC().Format(time.RFC3339), e.SpecID.String())
	if err != nil {
		return &domain.ProjectionError{Op: "apply state changed", Err: err}
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, content string, description *string, at, by string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO spec_version_history
			(id, version, content, description, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), version, content, description, at, by)
	if err != nil {
		return &domain.ProjectionError{Op: "insert history", Err: err}
	}
	return nil
}

// GetByID returns the current projection of one spec, nil when the
// spec has never been projected. Cache hits skip the database.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*SpecProjection, error) {
	if s.cacheEnabled {
		s.mu.RLock()
		cached, ok := s.cache[id]
		s.mu.RUnlock()
		if ok {
			hit := cached
			return &hit, nil
		}
	}

	projection, err := s.queryByID(ctx, id)
	if err != nil || projection == nil {
		return projection, err
	}

	if s.cacheEnabled {
		s.mu.Lock()
		s.cache[id] = *projection
		s.mu.Unlock()
	}
	result := *projection
	return &result, nil
}

// GetByName returns the current projection of the spec with the given
// name, nil when absent. Name lookups always hit the database; the
// cache is keyed by id.
func (s *Store) GetByName(ctx context.Context, name string) (*SpecProjection, error) {
	row := s.db.QueryRowContext(ctx, selectProjection+` WHERE name = ?`, name)
	return scanProjection(row)
}

func (s *Store) queryByID(ctx context.Context, id uuid.UUID) (*SpecProjection, error) {
	row := s.db.QueryRowContext(ctx, selectProjection+` WHERE id = ?`, id.String())
	return scanProjection(row)
}

const selectProjection = `
	SELECT id, name, content, description, version, state,
	       created_at, updated_at, created_by, updated_by
	FROM spec_projections`

func scanProjection(row *sql.Row) (*SpecProjection, error) {
	var (
		p                    SpecProjection
		id                   string
		description          sql.NullString
		version              int64
		state                string
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &p.Name, &p.Content, &description, &version, &state,
		&createdAt, &updatedAt, &p.CreatedBy, &p.UpdatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ProjectionError{Op: "scan projection", Err: err}
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, &domain.ProjectionError{Op: "parse projection id", Err: err}
	}
	if description.Valid {
		p.Description = &description.String
	}
	p.Version = domain.Version(version)
	p.State = domain.SpecState(state)
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, &domain.ProjectionError{Op: "parse created_at", Err: err}
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, &domain.ProjectionError{Op: "parse updated_at", Err: err}
	}
	return &p, nil
}

// ListByState returns summaries ordered by most recent update. A nil
// state filter returns every spec except deleted ones; an explicit
// state filter returns exactly that state, deleted included.
func (s *Store) ListByState(ctx context.Context, state *domain.SpecState, limit, offset int) ([]SpecSummary, error) {
	query := `
		SELECT id, name, description, version, state, updated_at
		FROM spec_projections`
	args := []any{}
	if state != nil {
		query += ` WHERE state = ?`
		args = append(args, string(*state))
	} else {
		query += ` WHERE state != ?`
		args = append(args, string(domain.StateDeleted))
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.ProjectionError{Op: "list specs", Err: err}
	}
	defer rows.Close()

	var summaries []SpecSummary
	for rows.Next() {
		var (
			summary     SpecSummary
			id          string
			description sql.NullString
			version     int64
			state       string
			updatedAt   string
		)
		if err := rows.Scan(&id, &summary.Name, &description, &version, &state, &updatedAt); err != nil {
			return nil, &domain.ProjectionError{Op: "scan summary", Err: err}
		}
		if summary.ID, err = uuid.Parse(id); err != nil {
			return nil, &domain.ProjectionError{Op: "parse summary id", Err: err}
		}
		if description.Valid {
			summary.Description = &description.String
		}
		summary.LatestVersion = domain.Version(version)
		summary.State = domain.SpecState(state)
		if summary.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, &domain.ProjectionError{Op: "parse updated_at", Err: err}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ProjectionError{Op: "list specs", Err: err}
	}
	return summaries, nil
}

// GetVersion returns one historical version, nil when that version was
// never recorded.
func (s *Store) GetVersion(ctx context.Context, id uuid.UUID, version uint32) (*VersionRecord, error) {
	var (
		record      VersionRecord
		specID      string
		v           int64
		description sql.NullString
		createdAt   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, content, description, created_at, created_by
		FROM spec_version_history
		WHERE id = ? AND version = ?
	`, id.String(), int64(version)).Scan(&specID, &v, &record.Content, &description, &createdAt, &record.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ProjectionError{Op: "get version", Err: err}
	}

	if record.SpecID, err = uuid.Parse(specID); err != nil {
		return nil, &domain.ProjectionError{Op: "parse version id", Err: err}
	}
	record.Version = domain.Version(v)
	if description.Valid {
		record.Description = &description.String
	}
	if record.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, &domain.ProjectionError{Op: "parse created_at", Err: err}
	}
	return &record, nil
}

// Reset truncates both projection tables inside the caller's
// transaction. Used by rebuilds.
func (s *Store) Reset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM spec_projections`); err != nil {
		return &domain.ProjectionError{Op: "reset projections", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spec_version_history`); err != nil {
		return &domain.ProjectionError{Op: "reset history", Err: err}
	}
	return nil
}

// ClearCache drops every cached row.
func (s *Store) ClearCache() {
	if !s.cacheEnabled {
		return
	}
	s.mu.Lock()
	s.cache = make(map[uuid.UUID]SpecProjection)
	s.mu.Unlock()
}

// RefreshCache re-reads the given specs from the database into the
// cache. The processor calls it after committing a batch so cached
// rows never run ahead of durable ones.
func (s *Store) RefreshCache(ctx context.Context, ids []uuid.UUID) {
	if !s.cacheEnabled {
		return
	}
	for _, id := range ids {
		projection, err := s.queryByID(ctx, id)
		if err != nil {
			s.logger.Warn("cache refresh failed",
				slog.String("spec_id", id.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.mu.Lock()
		if projection == nil {
			delete(s.cache, id)
		} else {
			s.cache[id] = *projection
		}
		s.mu.Unlock()
	}
}
