// Package eventstore persists spec events in SQLite. It is the system of
// record: an append-only log with per-aggregate dense sequence numbers,
// a store-wide global cursor (the SQLite rowid), and transactional name
// claims for cross-aggregate uniqueness.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/observability"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Store is the SQLite event store. Appends are serialized by a store
// mutex; the unique (aggregate_id, sequence_number) index backs the
// optimistic concurrency check for writers outside this process.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *observability.Metrics
	mu      sync.Mutex
}

type storeConfig struct {
	dsn          string
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
	logger       *slog.Logger
	metrics      *observability.Metrics
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		dsn:          "spec_service.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures a Store.
type Option func(*storeConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *storeConfig) {
		c.dsn = dsn
	}
}

// WithDB uses an existing database handle instead of opening one. The
// caller keeps ownership; Close becomes a no-op.
func WithDB(db *sql.DB) Option {
	return func(c *storeConfig) {
		c.db = db
	}
}

// WithMaxOpenConns sets the connection pool ceiling.
func WithMaxOpenConns(n int) Option {
	return func(c *storeConfig) {
		c.maxOpenConns = n
	}
}

// WithWALMode toggles write-ahead logging. Recommended for file
// databases; ignored for :memory:.
func WithWALMode(enabled bool) Option {
	return func(c *storeConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate toggles running embedded migrations on startup.
func WithAutoMigrate(enabled bool) Option {
	return func(c *storeConfig) {
		c.autoMigrate = enabled
	}
}

// WithLogger sets the store logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// WithMetrics records append counts on the given instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *storeConfig) {
		c.metrics = m
	}
}

// New opens the event store, applies PRAGMAs, and runs pending
// migrations unless auto-migrate is disabled.
func New(opts ...Option) (*Store, error) {
	config := defaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	db := config.db
	if db == nil {
		var err error
		db, err = sql.Open("sqlite", config.dsn)
		if err != nil {
			return nil, &domain.StoreError{Op: "open", Err: err}
		}

		// Each connection to :memory: would get its own database, so
		// the pool must be pinned to a single connection.
		if config.dsn == ":memory:" {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		} else {
			db.SetMaxOpenConns(config.maxOpenConns)
			db.SetMaxIdleConns(config.maxIdleConns)
		}
		db.SetConnMaxLifetime(time.Hour)
	}

	store := &Store{db: db, logger: config.logger, metrics: config.metrics}

	if err := db.Ping(); err != nil {
		store.closeOwned(config)
		return nil, &domain.StoreError{Op: "ping", Err: err}
	}

	if config.walMode && config.dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			store.closeOwned(config)
			return nil, &domain.StoreError{Op: "set WAL mode", Err: err}
		}
	}

	if config.autoMigrate {
		if err := RunMigrations(db); err != nil {
			store.closeOwned(config)
			return nil, &domain.StoreError{Op: "migrate", Err: err}
		}
	}

	return store, nil
}

func (s *Store) closeOwned(config storeConfig) {
	if config.db == nil {
		s.db.Close()
	}
}

// DB exposes the underlying handle so projections and checkpoints can
// share the database and its transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvents atomically appends events to one aggregate's stream.
// expectedSeq must equal the stream's current highest sequence number
// (0 for a new aggregate); on mismatch the append fails with a
// retryable ConflictError and nothing is written. Created events claim
// the spec name, transitions into the deleted state release it; a
// contested claim fails the whole append with DuplicateNameError.
//
// Returned envelopes carry the assigned sequence numbers and global
// positions in input order.
func (s *Store) AppendEvents(ctx context.Context, aggregateID uuid.UUID, expectedSeq int64, events []domain.SpecEvent, meta domain.EventMetadata) ([]domain.EventEnvelope, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StoreError{Op: "begin append", Err: err}
	}
	defer tx.Rollback()

	var currentSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID.String(),
	).Scan(&currentSeq)
	if err != nil {
		return nil, &domain.StoreError{Op: "read current sequence", Err: err}
	}

	if currentSeq != expectedSeq {
		return nil, &domain.ConflictError{
			AggregateID: aggregateID,
			ExpectedSeq: expectedSeq,
			ActualSeq:   currentSeq,
		}
	}

	metadataJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, &domain.StoreError{Op: "marshal metadata", Err: err}
	}

	now := time.Now().UTC()
	envelopes := make([]domain.EventEnvelope, 0, len(events))

	for i, event := range events {
		if err := s.applyNameClaims(ctx, tx, aggregateID, event, now); err != nil {
			return nil, err
		}

		data, err := domain.MarshalEvent(event)
		if err != nil {
			return nil, &domain.StoreError{Op: "marshal event", Err: err}
		}

		envelope := domain.EventEnvelope{
			EventID:        uuid.New(),
			AggregateID:    aggregateID,
			SequenceNumber: expectedSeq + int64(i) + 1,
			Event:          event,
			Metadata:       meta,
			RecordedAt:     now,
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, aggregate_id, sequence_number, event_type, event_data, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			envelope.EventID.String(),
			aggregateID.String(),
			envelope.SequenceNumber,
			event.EventType(),
			string(data),
			string(metadataJSON),
			now.Format(time.RFC3339),
		)
		if err != nil {
			return nil, &domain.StoreError{Op: "insert event", Err: err}
		}

		position, err := res.LastInsertId()
		if err != nil {
			return nil, &domain.StoreError{Op: "read global position", Err: err}
		}
		envelope.GlobalPosition = position

		envelopes = append(envelopes, envelope)
	}

	if err := tx.Commit(); err != nil {
		return nil, &domain.StoreError{Op: "commit append", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RecordAppend(ctx, len(envelopes))
	}
	return envelopes, nil
}

// applyNameClaims maintains the spec_name_claims table inside the
// append transaction. The check-then-claim is race-free because the
// transaction holds the database write lock.
func (s *Store) applyNameClaims(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID, event domain.SpecEvent, now time.Time) error {
	switch e := event.(type) {
	case *domain.SpecCreated:
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT aggregate_id FROM spec_name_claims WHERE name = ?`, e.Name,
		).Scan(&owner)
		switch {
		case err == nil && owner != aggregateID.String():
			return &domain.DuplicateNameError{Name: e.Name}
		case err != nil && err != sql.ErrNoRows:
			return &domain.StoreError{Op: "check name claim", Err: err}
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO spec_name_claims (name, aggregate_id, claimed_at) VALUES (?, ?, ?)`,
				e.Name, aggregateID.String(), now.Format(time.RFC3339),
			); err != nil {
				return &domain.StoreError{Op: "claim name", Err: err}
			}
		}
	case *domain.SpecStateChanged:
		if e.ToState == domain.StateDeleted {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM spec_name_claims WHERE aggregate_id = ?`, aggregateID.String(),
			); err != nil {
				return &domain.StoreError{Op: "release name claim", Err: err}
			}
		}
	}
	return nil
}

// GetEvents returns one aggregate's events with sequence numbers
// greater than afterSeq (0 for the whole stream), in sequence order.
func (s *Store) GetEvents(ctx context.Context, aggregateID uuid.UUID, afterSeq int64) ([]domain.EventEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, event_id, aggregate_id, sequence_number, event_data, metadata, created_at
		FROM events
		WHERE aggregate_id = ? AND sequence_number > ?
		ORDER BY sequence_number ASC
	`, aggregateID.String(), afterSeq)
	if err != nil {
		return nil, &domain.StoreError{Op: "query events", Err: err}
	}
	defer rows.Close()

	return scanEnvelopes(rows, "query events")
}

// GetAllEvents returns the global feed: events with a global position
// greater than afterPosition, in position order, at most limit rows.
func (s *Store) GetAllEvents(ctx context.Context, afterPosition int64, limit int) ([]domain.EventEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, event_id, aggregate_id, sequence_number, event_data, metadata, created_at
		FROM events
		WHERE rowid > ?
		ORDER BY rowid ASC
		LIMIT ?
	`, afterPosition, limit)
	if err != nil {
		return nil, &domain.StoreError{Op: "query all events", Err: err}
	}
	defer rows.Close()

	return scanEnvelopes(rows, "query all events")
}

// LatestSequence returns the aggregate's highest sequence number, 0
// when the aggregate has no events.
func (s *Store) LatestSequence(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID.String(),
	).Scan(&seq)
	if err != nil {
		return 0, &domain.StoreError{Op: "read latest sequence", Err: err}
	}
	return seq, nil
}

// LatestPosition returns the global position of the newest event, 0
// for an empty log.
func (s *Store) LatestPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(rowid), 0) FROM events`,
	).Scan(&pos)
	if err != nil {
		return 0, &domain.StoreError{Op: "read latest position", Err: err}
	}
	return pos, nil
}

func scanEnvelopes(rows *sql.Rows, op string) ([]domain.EventEnvelope, error) {
	var envelopes []domain.EventEnvelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: op, Err: err}
		}
		envelopes = append(envelopes, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: op, Err: err}
	}
	return envelopes, nil
}

func scanEnvelope(rows *sql.Rows) (domain.EventEnvelope, error) {
	var (
		envelope                       domain.EventEnvelope
		eventID, aggregateID           string
		eventData, metadata, createdAt string
	)
	if err := rows.Scan(
		&envelope.GlobalPosition,
		&eventID,
		&aggregateID,
		&envelope.SequenceNumber,
		&eventData,
		&metadata,
		&createdAt,
	); err != nil {
		return domain.EventEnvelope{}, err
	}

	var err error
	if envelope.EventID, err = uuid.Parse(eventID); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("parse event id %q: %w", eventID, err)
	}
	if envelope.AggregateID, err = uuid.Parse(aggregateID); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("parse aggregate id %q: %w", aggregateID, err)
	}
	if envelope.Event, err = domain.UnmarshalEvent([]byte(eventData)); err != nil {
		return domain.EventEnvelope{}, err
	}
	if err = json.Unmarshal([]byte(metadata), &envelope.Metadata); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if envelope.RecordedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}

	return envelope, nil
}
