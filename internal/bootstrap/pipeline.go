package bootstrap

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/meridianhq/telemetry-backend/internal/aggregate"
	"github.com/meridianhq/telemetry-backend/internal/alert"
	"github.com/meridianhq/telemetry-backend/internal/cache"
	"github.com/meridianhq/telemetry-backend/internal/ingest"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/process"
	"github.com/meridianhq/telemetry-backend/internal/rank"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

func ProvideMetrics() *metrics.Pipeline {
	return metrics.NewPipeline()
}

func ProvidePublisher(redisClient *redis.Client, cfg *Config) *stream.Publisher {
	return stream.NewPublisher(redisClient, cfg.PartitionCount)
}

func ProvideBuffer() *aggregate.Buffer {
	return aggregate.NewBuffer()
}

func ProvideRateLimiter(cfg *Config) *ingest.RateLimiter {
	return ingest.NewRateLimiter(ingest.RateLimitConfig{
		Window:          cfg.RateLimitWindow,
		MaxRequests:     cfg.RateLimitMax,
		BatchMultiplier: cfg.BatchQuotaMultiplier,
	})
}

func ProvideIngestor(limiter *ingest.RateLimiter, publisher *stream.Publisher, logger *slog.Logger, m *metrics.Pipeline) *ingest.Ingestor {
	return ingest.NewIngestor(limiter, publisher, logger.With("component", "ingestor"), m)
}

func ProvideDeadLetterRouter(publisher *stream.Publisher, store *record.Store, logger *slog.Logger, m *metrics.Pipeline) *process.DeadLetterRouter {
	return process.NewDeadLetterRouter(publisher, store, logger.With("component", "deadletter"), m)
}

func ProvideProcessor(
	redisClient *redis.Client,
	publisher *stream.Publisher,
	store *record.Store,
	cacheStore *cache.Store,
	ranker rank.Ranker,
	buffer *aggregate.Buffer,
	dlq *process.DeadLetterRouter,
	cfg *Config,
	logger *slog.Logger,
	m *metrics.Pipeline,
) *process.Processor {
	return process.NewProcessor(redisClient, publisher, store, cacheStore, ranker, buffer, dlq, process.Config{
		Partitions:     cfg.PartitionCount,
		ReadBatch:      int64(cfg.ReadBatchSize),
		PollInterval:   cfg.PollInterval,
		ProcessTimeout: cfg.ProcessTimeout,
	}, logger.With("component", "processor"), m)
}

func ProvideFlusher(
	buffer *aggregate.Buffer,
	store *record.Store,
	publisher *stream.Publisher,
	cacheStore *cache.Store,
	cfg *Config,
	logger *slog.Logger,
	m *metrics.Pipeline,
) *aggregate.Flusher {
	return aggregate.NewFlusher(buffer, store, publisher, cacheStore, aggregate.FlusherConfig{
		Interval:      cfg.AggregationWindow,
		FlushTimeout:  cfg.FlushTimeout,
		CacheTTL:      cfg.AggregateCacheTTL,
		RetryAttempts: cfg.FlushRetryAttempts,
	}, logger.With("component", "flusher"), m)
}

func ProvideEvaluator(redisClient *redis.Client, publisher *stream.Publisher, logger *slog.Logger, m *metrics.Pipeline) *alert.Evaluator {
	return alert.NewEvaluator(redisClient, publisher, alert.DefaultRules(), logger.With("component", "alerts"), m)
}

// StartPipeline wires the moving parts into the fx lifecycle. Shutdown order
// matters: stop intake first, then force the final flush, and stop the alert
// evaluator last so it can drain what the flush republished.
func StartPipeline(
	lc fx.Lifecycle,
	limiter *ingest.RateLimiter,
	processor *process.Processor,
	flusher *aggregate.Flusher,
	evaluator *alert.Evaluator,
	logger *slog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			limiter.StartSweeper()
			processor.Start()
			flusher.Start()
			evaluator.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			limiter.StopSweeper()
			if err := processor.Stop(ctx); err != nil {
				logger.Error("processor shutdown", "error", err)
			}
			if err := flusher.Stop(ctx); err != nil {
				logger.Error("final flush", "error", err)
			}
			evaluator.Stop()
			return nil
		},
	})
}

var PipelineModule = fx.Options(
	fx.Provide(
		ProvideMetrics,
		ProvidePublisher,
		ProvideBuffer,
		ProvideRateLimiter,
		ProvideIngestor,
		ProvideDeadLetterRouter,
		ProvideProcessor,
		ProvideFlusher,
		ProvideEvaluator,
	),
	fx.Invoke(StartPipeline),
)
