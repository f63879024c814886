// Package eventbus feeds stored spec events to NATS JetStream for
// downstream consumers. The publisher is a second checkpointed reader
// of the global log, so the integration feed never blocks command
// handling and catches up after downtime.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/eventstore"
)

const (
	// StreamName is the JetStream stream holding spec events.
	StreamName = "SPEC_EVENTS"

	// SubjectPrefix is completed with the event type, e.g.
	// specs.events.created.
	SubjectPrefix = "specs.events."

	// CheckpointName is the publisher's cursor in the checkpoint table.
	CheckpointName = "nats_publisher"

	defaultBatchSize    = 100
	defaultPollInterval = 100 * time.Millisecond
	defaultErrorSleep   = time.Second
	defaultMaxAge       = 7 * 24 * time.Hour
	defaultMaxBytes     = 1024 * 1024 * 1024
)

// Envelope is the wire shape published to JetStream. Event carries the
// same JSON the event store persists, discriminated by a "type" field.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	SpecID         string          `json:"spec_id"`
	SequenceNumber int64           `json:"sequence_number"`
	GlobalPosition int64           `json:"global_position"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Event          json.RawMessage `json:"event"`
}

// Publisher tails the global event feed and publishes each event to
// JetStream. Delivery is at least once: the checkpoint is saved after
// a batch is acked, and the broker deduplicates replays by message ID
// <spec_id>:<sequence>.
type Publisher struct {
	events      *eventstore.Store
	checkpoints *eventstore.CheckpointStore
	logger      *slog.Logger

	url          string
	urlSource    func() string
	connectOpts  []nats.Option
	streamMaxAge time.Duration
	batchSize    int
	pollInterval time.Duration
	errorSleep   time.Duration

	nc *nats.Conn
	js nats.JetStreamContext

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithURL sets the NATS server URL. Defaults to nats.DefaultURL.
func WithURL(url string) PublisherOption {
	return func(p *Publisher) {
		if url != "" {
			p.url = url
		}
	}
}

// WithURLSource resolves the server URL at Start instead of at
// construction. Used with the embedded server, whose address exists
// only once it is running.
func WithURLSource(source func() string) PublisherOption {
	return func(p *Publisher) {
		p.urlSource = source
	}
}

// WithConnectOptions adds NATS connection options, e.g. credentials.
func WithConnectOptions(opts ...nats.Option) PublisherOption {
	return func(p *Publisher) {
		p.connectOpts = append(p.connectOpts, opts...)
	}
}

// WithStreamMaxAge sets the stream retention age.
func WithStreamMaxAge(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.streamMaxAge = d
		}
	}
}

// WithPublishBatchSize sets how many events one poll fetches.
func WithPublishBatchSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPublishPollInterval sets the idle sleep between empty polls.
func WithPublishPollInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithPublishErrorSleep sets the backoff after a failed fetch or
// publish.
func WithPublishErrorSleep(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.errorSleep = d
		}
	}
}

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher wires the publisher to the event store it tails.
func NewPublisher(events *eventstore.Store, checkpoints *eventstore.CheckpointStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		events:       events,
		checkpoints:  checkpoints,
		url:          nats.DefaultURL,
		streamMaxAge: defaultMaxAge,
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
	return p
}

// Name implements runner.Service.
func (p *Publisher) Name() string {
	return "nats-publisher"
}

// Start connects, ensures the stream, and begins polling in the
// background.
func (p *Publisher) Start(ctx context.Context) error {
	if p.urlSource != nil {
		if url := p.urlSource(); url != "" {
			p.url = url
		}
	}

	nc, err := nats.Connect(p.url, p.connectOpts...)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("create jetstream context: %w", err)
	}

	if err := p.ensureStream(js); err != nil {
		nc.Close()
		return err
	}

	position, err := p.checkpoints.Load(ctx, CheckpointName)
	if err != nil {
		nc.Close()
		return err
	}

	p.nc = nc
	p.js = js

	loopCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.logger.Info("event publisher starting",
		slog.String("url", p.url),
		slog.Int64("position", position),
	)

	go func() {
		defer close(done)
		p.run(loopCtx, position)
	}()

	return nil
}

// Stop cancels the poll loop, waits for the in-flight batch, and
// closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
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
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// HealthCheck implements runner.HealthChecker.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return fmt.Errorf("nats connection down")
	}
	return nil
}

// ensureStream creates the stream if it does not exist, or updates the
// retention settings when they drifted.
func (p *Publisher) ensureStream(js nats.JetStreamContext) error {
	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ">"},
		MaxAge:   p.streamMaxAge,
		MaxBytes: defaultMaxBytes,
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	info, err := js.StreamInfo(StreamName)
	if err != nil {
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", StreamName, err)
		}
		return nil
	}

	if info.Config.MaxAge != cfg.MaxAge || info.Config.MaxBytes != cfg.MaxBytes {
		if _, err := js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
	}
	return nil
}

func (p *Publisher) run(ctx context.Context, position int64) {
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

		next, err := p.publishBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("publish batch failed",
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

// publishBatch publishes every event in order and then advances the
// checkpoint. A failure mid-batch leaves the checkpoint untouched; the
// whole batch is republished next poll and deduplicated by the broker.
func (p *Publisher) publishBatch(ctx context.Context, batch []domain.EventEnvelope) (int64, error) {
	for _, env := range batch {
		data, err := p.marshalEnvelope(env)
		if err != nil {
			// Unmarshalable events never become publishable; skip so
			// the feed keeps moving.
			p.logger.Warn("skipping unpublishable event",
				slog.String("event_id", env.EventID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		subject := SubjectPrefix + env.Event.EventType()
		msgID := fmt.Sprintf("%s:%d", env.AggregateID, env.SequenceNumber)
		if _, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
			return 0, fmt.Errorf("publish %s: %w", msgID, err)
		}
	}

	last := batch[len(batch)-1].GlobalPosition
	if err := p.checkpoints.Save(ctx, CheckpointName, last); err != nil {
		return 0, err
	}

	p.logger.Debug("batch published",
		slog.Int("events", len(batch)),
		slog.Int64("position", last),
	)
	return last, nil
}

func (p *Publisher) marshalEnvelope(env domain.EventEnvelope) ([]byte, error) {
	payload, err := domain.MarshalEvent(env.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:        env.EventID.String(),
		EventType:      env.Event.EventType(),
		SpecID:         env.AggregateID.String(),
		SequenceNumber: env.SequenceNumber,
		GlobalPosition: env.GlobalPosition,
		OccurredAt:     env.Event.OccurredAt(),
		Event:          payload,
	})
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
