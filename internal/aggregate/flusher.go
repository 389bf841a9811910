package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

type SnapshotStore interface {
	CreateSnapshots(ctx context.Context, snapshots []*record.AggregateSnapshot) error
	CreateDeadLetter(ctx context.Context, d *record.DeadLetter) error
}

type Appender interface {
	Append(ctx context.Context, topic string, payload []byte) (string, error)
}

type AggregateCache interface {
	CacheAggregate(ctx context.Context, snap *record.AggregateSnapshot, ttl time.Duration) error
}

type FlusherConfig struct {
	Interval      time.Duration
	FlushTimeout  time.Duration
	CacheTTL      time.Duration
	RetryAttempts uint
}

func (c *FlusherConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 5
	}
}

// Flusher drains completed buckets on a fixed interval: swap the live buffer,
// persist the whole set as one batch, republish each snapshot, cache each
// under a TTL. Batch persistence is retried as a unit; exhausting retries
// dead-letters the batch and is surfaced as a fatal operational condition.
type Flusher struct {
	buffer  *Buffer
	store   SnapshotStore
	log     Appender
	cache   AggregateCache
	cfg     FlusherConfig
	logger  *slog.Logger
	metrics *metrics.Pipeline

	lastFlush atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFlusher(buffer *Buffer, store SnapshotStore, log Appender, cache AggregateCache, cfg FlusherConfig, logger *slog.Logger, m *metrics.Pipeline) *Flusher {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		buffer:  buffer,
		store:   store,
		log:     log,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func (f *Flusher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.Flush(ctx); err != nil {
					f.logger.Error("scheduled flush failed", "error", err)
				}
				f.metrics.BufferSize.Set(float64(f.buffer.Size()))
			}
		}
	}()
}

// Stop halts the timer and forces a final flush so no completed bucket is
// lost on controlled shutdown.
func (f *Flusher) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return f.Flush(ctx)
}

func (f *Flusher) LastFlush() time.Time {
	unix := f.lastFlush.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (f *Flusher) BufferSize() int {
	return f.buffer.Size()
}

// Flush swaps the live buffer and drains the swapped buckets. The swap is
// atomic with respect to worker updates, so no partial flush is observable:
// a bucket is either live or fully flushed.
func (f *Flusher) Flush(ctx context.Context) error {
	swapped := f.buffer.Swap()
	if len(swapped) == 0 {
		return nil
	}

	now := time.Now()
	snapshots := make([]*record.AggregateSnapshot, 0, len(swapped))
	for _, bucket := range swapped {
		snapshots = append(snapshots, bucket.Snapshot(now))
	}

	flushCtx, cancel := context.WithTimeout(ctx, f.cfg.FlushTimeout)
	defer cancel()

	err := retry.Do(
		func() error { return f.store.CreateSnapshots(flushCtx, snapshots) },
		retry.Context(flushCtx),
		retry.Attempts(f.cfg.RetryAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		f.metrics.FlushFailures.Inc()
		f.deadLetterBatch(ctx, snapshots, err)
		f.logger.Error("flush persistence exhausted retries, batch dead-lettered, operator intervention required",
			"buckets", len(snapshots), "error", err)
		return fmt.Errorf("%w: %v", shared.ErrBufferFlushFailed, err)
	}

	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			f.logger.Error("marshal snapshot", "tenant", snap.TenantID, "error", err)
			continue
		}
		if _, err := f.log.Append(flushCtx, stream.TopicAggregated, data); err != nil {
			f.logger.Warn("republish snapshot", "tenant", snap.TenantID, "error", err)
		}
		if err := f.cache.CacheAggregate(flushCtx, snap, f.cfg.CacheTTL); err != nil {
			f.logger.Warn("cache snapshot", "tenant", snap.TenantID, "error", err)
		}
	}

	f.lastFlush.Store(now.Unix())
	f.metrics.LastFlushUnix.Set(float64(now.Unix()))
	f.logger.Info("flushed aggregation buffer", "buckets", len(snapshots))
	return nil
}

func (f *Flusher) deadLetterBatch(ctx context.Context, snapshots []*record.AggregateSnapshot, cause error) {
	data, err := json.Marshal(snapshots)
	if err != nil {
		f.logger.Error("marshal dead-letter batch", "error", err)
		return
	}

	if _, err := f.log.Append(ctx, stream.TopicDeadLetter, data); err != nil {
		f.logger.Error("publish dead-letter batch", "error", err)
	}
	if err := f.store.CreateDeadLetter(ctx, &record.DeadLetter{
		Topic:    stream.TopicAggregated,
		Payload:  string(data),
		Error:    cause.Error(),
		FailedAt: time.Now(),
	}); err != nil {
		f.logger.Error("persist dead-letter batch", "error", err)
	}
}
