package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

const payloadField = "payload"

// Publisher appends entries to the partitioned event log. All events for one
// tenant hash to the same partition, which is what preserves per-tenant order
// through the pipeline.
type Publisher struct {
	redis      *redis.Client
	partitions int
}

func NewPublisher(redisClient *redis.Client, partitions int) *Publisher {
	if partitions < 1 {
		partitions = 1
	}
	return &Publisher{redis: redisClient, partitions: partitions}
}

func (p *Publisher) Partitions() int {
	return p.partitions
}

func (p *Publisher) PartitionFor(tenantID string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(p.partitions))
}

// PublishEvent appends a raw event to its tenant's partition. Failures are
// returned synchronously; this layer never retries locally.
func (p *Publisher) PublishEvent(ctx context.Context, ev *event.MetricsEvent) (partition int, offset string, err error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, "", fmt.Errorf("marshal event: %w", err)
	}

	partition = p.PartitionFor(ev.TenantID)
	offset, err = p.Append(ctx, RawTopic(partition), data)
	return partition, offset, err
}

// Append adds one entry to a named stream and returns its offset.
func (p *Publisher) Append(ctx context.Context, topic string, payload []byte) (string, error) {
	offset, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: append to %s: %v", shared.ErrLogUnavailable, topic, err)
	}
	return offset, nil
}
