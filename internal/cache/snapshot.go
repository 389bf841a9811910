package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/telemetry-backend/internal/record"
)

// RecordSummary is the trimmed view of the most recent record of one kind.
type RecordSummary struct {
	RecordID  string         `json:"record_id"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Derived   map[string]any `json:"derived,omitempty"`
}

// PerformanceSummary is a rolling view over command executions since the
// snapshot was first written.
type PerformanceSummary struct {
	Count          int64   `json:"count"`
	AvgExecutionMs float64 `json:"avg_execution_ms"`
}

// TenantSnapshot is the per-tenant real-time view served to dashboards.
type TenantSnapshot struct {
	TenantID     string                   `json:"tenant_id"`
	LastActivity time.Time                `json:"last_activity"`
	RecentByKind map[string]RecordSummary `json:"recent_by_kind"`
	ActiveUsers  int64                    `json:"active_users"`
	Performance  PerformanceSummary       `json:"performance"`
}

func snapshotKey(tenantID string) string {
	return "tenant:" + tenantID + ":snapshot"
}

func activeUsersKey(tenantID string) string {
	return "tenant:" + tenantID + ":active_users"
}

func aggregateKey(tenantID, userID string, bucketStart time.Time) string {
	return "tenant:" + tenantID + ":agg:" + userID + ":" + strconv.FormatInt(bucketStart.Unix(), 10)
}

type Store struct {
	redis       *redis.Client
	snapshotTTL time.Duration
}

func NewStore(redisClient *redis.Client, snapshotTTL time.Duration) *Store {
	return &Store{redis: redisClient, snapshotTTL: snapshotTTL}
}

// Update refreshes the tenant snapshot from a freshly processed record.
// Workers on the tenant's partition are the only writers, so read-modify-
// write here is single-writer by construction.
func (s *Store) Update(ctx context.Context, rec *record.ProcessedRecord) error {
	snap, err := s.Get(ctx, rec.TenantID)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &TenantSnapshot{
			TenantID:     rec.TenantID,
			RecentByKind: make(map[string]RecordSummary),
		}
	}

	snap.LastActivity = rec.ProcessedAt
	snap.RecentByKind[rec.Kind] = RecordSummary{
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		Timestamp: rec.Timestamp,
		Derived:   rec.Derived,
	}

	if rec.Kind == "command_execution" {
		if ms, ok := rec.Derived["duration_ms"].(float64); ok {
			n := snap.Performance.Count + 1
			snap.Performance.AvgExecutionMs += (ms - snap.Performance.AvgExecutionMs) / float64(n)
			snap.Performance.Count = n
		}
	}

	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, activeUsersKey(rec.TenantID), rec.UserID)
	pipe.Expire(ctx, activeUsersKey(rec.TenantID), s.snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	active, err := s.redis.SCard(ctx, activeUsersKey(rec.TenantID)).Result()
	if err != nil {
		return err
	}
	snap.ActiveUsers = active

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, snapshotKey(rec.TenantID), data, s.snapshotTTL).Err()
}

// Get returns the tenant snapshot, or nil if none is cached.
func (s *Store) Get(ctx context.Context, tenantID string) (*TenantSnapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap TenantSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CacheAggregate stores one flushed bucket under a TTL for fast reads.
func (s *Store) CacheAggregate(ctx context.Context, snap *record.AggregateSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, aggregateKey(snap.TenantID, snap.UserID, snap.BucketStart), data, ttl).Err()
}
