package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/telemetry-backend/internal/aggregate"
	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/rank"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

type Appender interface {
	Append(ctx context.Context, topic string, payload []byte) (string, error)
}

type RecordStore interface {
	CreateRecord(ctx context.Context, r *record.ProcessedRecord) error
}

type SnapshotUpdater interface {
	Update(ctx context.Context, rec *record.ProcessedRecord) error
}

type Config struct {
	Partitions     int
	ReadBatch      int64
	PollInterval   time.Duration
	ProcessTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.Partitions < 1 {
		c.Partitions = 1
	}
	if c.ReadBatch < 1 {
		c.ReadBatch = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 5 * time.Second
	}
}

// stepError tags a failure with the processing step that produced it, so the
// dead-letter record and the failure metrics say where the message died.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func stepFailed(step string, err error) *stepError {
	return &stepError{step: step, err: err}
}

// Processor runs one worker per raw-log partition. The partition count is
// the parallelism bound; within a partition messages are handled strictly in
// order, which preserves per-tenant ordering end to end. A failed message is
// dead-lettered and the cursor still advances, so failures are isolated per
// message, never per partition.
type Processor struct {
	redis   *redis.Client
	log     Appender
	store   RecordStore
	cache   SnapshotUpdater
	ranker  rank.Ranker
	buffer  *aggregate.Buffer
	dlq     *DeadLetterRouter
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Pipeline
	stats   *Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProcessor(
	redisClient *redis.Client,
	log Appender,
	store RecordStore,
	cache SnapshotUpdater,
	ranker rank.Ranker,
	buffer *aggregate.Buffer,
	dlq *DeadLetterRouter,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Pipeline,
) *Processor {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		redis:   redisClient,
		log:     log,
		store:   store,
		cache:   cache,
		ranker:  ranker,
		buffer:  buffer,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		stats:   NewStats(),
	}
}

func (p *Processor) Stats() *Stats {
	return p.stats
}

func (p *Processor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for partition := 0; partition < p.cfg.Partitions; partition++ {
		p.wg.Add(1)
		go p.worker(ctx, partition)
	}

	p.logger.Info("processor started", "partitions", p.cfg.Partitions)
}

func (p *Processor) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processor shutdown: %w", ctx.Err())
	}
}

func (p *Processor) worker(ctx context.Context, partition int) {
	defer p.wg.Done()

	p.stats.WorkerStarted()
	p.metrics.ActiveWorkers.Inc()
	defer func() {
		p.stats.WorkerStopped()
		p.metrics.ActiveWorkers.Dec()
	}()

	reader := stream.NewReader(p.redis, stream.RawTopic(partition), p.cfg.ReadBatch)
	logger := p.logger.With("partition", partition)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("fetch failed", "error", err)
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		if len(msgs) == 0 {
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		for _, msg := range msgs {
			p.processMessage(ctx, partition, msg)
			reader.Advance(msg.Offset)
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, partition int, msg stream.Message) {
	start := time.Now()

	mctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	err := p.handle(mctx, partition, msg, start)
	cancel()

	elapsed := time.Since(start)
	if err != nil {
		step := "process"
		var se *stepError
		if errors.As(err, &se) {
			step = se.step
		}
		p.stats.RecordFailure(elapsed)
		p.metrics.EventsFailed.WithLabelValues(step).Inc()
		p.dlq.Route(ctx, msg.Topic, partition, msg.Offset, msg.Payload, err)
		return
	}

	p.stats.RecordSuccess(elapsed)
	p.metrics.ProcessingSeconds.Observe(elapsed.Seconds())
}

// handle walks the per-message state machine: decode, kind dispatch, derive,
// persist, cache update, aggregate update, forward. The first failing step
// aborts; the caller routes the message to the dead-letter log.
func (p *Processor) handle(ctx context.Context, partition int, msg stream.Message, start time.Time) error {
	var ev event.MetricsEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return stepFailed("decode", err)
	}

	payload, err := ev.Decode()
	if err != nil {
		return stepFailed("kind_dispatch", err)
	}

	derived, err := Derive(ctx, &ev, payload, p.ranker)
	if err != nil {
		return stepFailed("derive", err)
	}

	var payloadMap shared.JSONMap
	if err := json.Unmarshal(ev.Payload, &payloadMap); err != nil {
		return stepFailed("decode", err)
	}

	rec := &record.ProcessedRecord{
		ID:           shared.NewID("rec_"),
		EventID:      ev.ID,
		Kind:         string(ev.Kind),
		TenantID:     ev.TenantID,
		UserID:       ev.UserID,
		Timestamp:    ev.Timestamp,
		Payload:      payloadMap,
		Derived:      derived,
		Partition:    partition,
		Offset:       msg.Offset,
		ProcessedAt:  time.Now(),
		ProcessingMs: time.Since(start).Milliseconds(),
	}

	if err := p.store.CreateRecord(ctx, rec); err != nil {
		return stepFailed("persist", err)
	}

	if err := p.cache.Update(ctx, rec); err != nil {
		return stepFailed("cache_update", err)
	}

	p.applyAggregate(&ev, payload)

	data, err := json.Marshal(rec)
	if err != nil {
		return stepFailed("forward", err)
	}
	if _, err := p.log.Append(ctx, stream.TopicProcessed, data); err != nil {
		return stepFailed("forward", err)
	}

	p.metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

func (p *Processor) applyAggregate(ev *event.MetricsEvent, payload event.Payload) {
	key := aggregate.Key{
		TenantID:    ev.TenantID,
		UserID:      ev.UserID,
		BucketStart: ev.MinuteBucket(),
	}

	switch pl := payload.(type) {
	case event.CommandExecutionPayload:
		p.buffer.Update(key, func(b *aggregate.Bucket) {
			b.ApplyCommand(pl.DurationMs, pl.Status == event.StatusError)
		})
	case event.AgentInteractionPayload:
		p.buffer.Update(key, func(b *aggregate.Bucket) {
			b.ApplyAgentInteraction(pl.AgentName)
		})
	case event.ProductivityMetricPayload:
		p.buffer.Update(key, func(b *aggregate.Bucket) {
			b.ApplyProductivity(pl.Value)
		})
	}
}

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
