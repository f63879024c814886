package projection

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
	"github.com/navicore/spec-service/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 100 * time.Millisecond
	defaultErrorSleep   = time.Second
	rebuildBatchSize    = 1000

	// CheckpointName is the processor's cursor in the checkpoint table.
	CheckpointName = "spec_projection"
)

// Processor tails the global event feed and folds batches into the
// read model. Each batch commits in one transaction together with the
// advanced checkpoint, so a crash replays at most one batch, and the
// idempotent applies make that replay harmless.
type Processor struct {
	events      *eventstore.Store
	projections *Store
	checkpoints *eventstore.CheckpointStore
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer

	batchSize    int
	pollInterval time.Duration
	errorSleep   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets how many events one poll fetches.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPollInterval sets the idle sleep between empty polls.
func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithErrorSleep sets the backoff after a failed fetch or commit.
func WithErrorSleep(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.errorSleep = d
		}
	}
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProcessorMetrics records folded batches and projection lag.
func WithProcessorMetrics(m *observability.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor wires the processor to the event store it tails and the
// projection store it writes.
func NewProcessor(events *eventstore.Store, projections *Store, checkpoints *eventstore.CheckpointStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		events:       events,
		projections:  projections,
		checkpoints:  checkpoints,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		errorSleep:   defaultErrorSleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.tracer = otel.Tracer("github.com/navicore/spec-service/pkg/projection")
	return p
}

// Name implements runner.Service.
func (p *Processor) Name() string {
	return "projection-processor"
}

// Start loads the checkpoint and begins polling in the background.
func (p *Processor) Start(ctx context.Context) error {
	position, err := p.checkpoints.Load(ctx, CheckpointName)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.logger.Info("projection processor starting",
		slog.Int64("position", position),
		slog.Int("batch_size", p.batchSize),
	)

	go func() {
		defer close(done)
		p.run(loopCtx, position)
	}()

	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) run(ctx context.Context, position int64) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := p.events.GetAllEvents(ctx, position, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("fetch batch failed",
				slog.Int64("position", position),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, p.errorSleep) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}

		next, err := p.applyBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("apply batch failed",
				slog.Int64("position", position),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, p.errorSleep) {
				return
			}
			continue
		}
		position = next
	}
}

// applyBatch folds one batch in a single transaction and returns the
// new checkpoint position. A poison event is logged and skipped; only
// infrastructure failures abort the batch.
func (p *Processor) applyBatch(ctx context.Context, batch []domain.EventEnvelope) (next int64, err error) {
	ctx, span := observability.StartSpan(ctx, p.tracer, "projection.apply_batch",
		observability.WithAttributes(
			observability.AttrEventCount.Int(len(batch)),
			observability.AttrPosition.Int64(batch[len(batch)-1].GlobalPosition),
		))
	defer func() { observability.EndSpan(span, err) }()

	tx, err := p.events.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.ProjectionError{Op: "begin batch", Err: err}
	}
	defer tx.Rollback()

	touched := make([]uuid.UUID, 0, len(batch))
	seen := make(map[uuid.UUID]bool, len(batch))

	for _, env := range batch {
		if err := p.projections.ApplyEvent(ctx, tx, env); err != nil {
			p.logger.Warn("skipping event",
				slog.String("event_id", env.EventID.String()),
				slog.Int64("position", env.GlobalPosition),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !seen[env.AggregateID] {
			seen[env.AggregateID] = true
			touched = append(touched, env.AggregateID)
		}
	}

	last := batch[len(batch)-1].GlobalPosition
	if err := p.checkpoints.SaveInTx(ctx, tx, CheckpointName, last); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &domain.ProjectionError{Op: "commit batch", Err: err}
	}

	p.projections.RefreshCache(ctx, touched)

	if p.metrics != nil {
		if head, herr := p.events.LatestPosition(ctx); herr == nil {
			p.metrics.RecordProjection(ctx, len(batch), head-last)
		}
	}

	p.logger.Debug("batch applied",
		slog.Int("events", len(batch)),
		slog.Int64("position", last),
	)
	return last, nil
}

// Rebuild drops the read model and replays the full event log. Callers
// must stop the poll loop first; the two share the checkpoint row.
func (p *Processor) Rebuild(ctx context.Context) error {
	db := p.events.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.ProjectionError{Op: "begin rebuild", Err: err}
	}
	if err := p.resetInTx(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.ProjectionError{Op: "commit reset", Err: err}
	}
	p.projections.ClearCache()

	var position int64
	for {
		batch, err := p.events.GetAllEvents(ctx, position, rebuildBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		position, err = p.applyBatch(ctx, batch)
		if err != nil {
			return err
		}
	}

	p.logger.Info("projection rebuilt", slog.Int64("position", position))
	return nil
}

func (p *Processor) resetInTx(ctx context.Context, tx *sql.Tx) error {
	if err := p.projections.Reset(ctx, tx); err != nil {
		return err
	}
	return p.checkpoints.DeleteInTx(ctx, tx, CheckpointName)
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
