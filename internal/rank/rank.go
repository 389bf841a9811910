package rank

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

// Ranker places a metric value against the tenant's observed history.
type Ranker interface {
	Observe(ctx context.Context, tenantID string, metric event.MetricType, value float64) error
	Percentile(ctx context.Context, tenantID string, metric event.MetricType, value float64) (float64, error)
}

const defaultHistorySize = 1000

// neutral rank when a tenant has no history yet
const emptyHistoryPercentile = 50

func historyKey(tenantID string, metric event.MetricType) string {
	return "tenant:" + tenantID + ":rank:" + string(metric)
}

// RedisRanker keeps a capped sorted set of observed values per tenant and
// metric type.
type RedisRanker struct {
	redis       *redis.Client
	historySize int64
}

func NewRedisRanker(redisClient *redis.Client) *RedisRanker {
	return &RedisRanker{redis: redisClient, historySize: defaultHistorySize}
}

func (r *RedisRanker) Observe(ctx context.Context, tenantID string, metric event.MetricType, value float64) error {
	key := historyKey(tenantID, metric)
	if err := r.redis.ZAdd(ctx, key, redis.Z{
		Score:  value,
		Member: shared.NewID("obs_"),
	}).Err(); err != nil {
		return err
	}

	card, err := r.redis.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if card > r.historySize {
		return r.redis.ZRemRangeByRank(ctx, key, 0, card-r.historySize-1).Err()
	}
	return nil
}

func (r *RedisRanker) Percentile(ctx context.Context, tenantID string, metric event.MetricType, value float64) (float64, error) {
	key := historyKey(tenantID, metric)

	total, err := r.redis.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return emptyHistoryPercentile, nil
	}

	below, err := r.redis.ZCount(ctx, key, "-inf", "("+strconv.FormatFloat(value, 'f', -1, 64)).Result()
	if err != nil {
		return 0, err
	}
	return float64(below) / float64(total) * 100, nil
}
