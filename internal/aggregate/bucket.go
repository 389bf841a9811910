package aggregate

import (
	"time"

	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

// Key identifies one live bucket: tenant, user, minute window.
type Key struct {
	TenantID    string
	UserID      string
	BucketStart time.Time
}

// Bucket holds the running aggregates for one key. It is mutated in place by
// the partition worker that owns its tenant until the flusher swaps it out.
type Bucket struct {
	Key
	CommandCount      int64
	AvgExecutionMs    float64
	ErrorRate         float64
	AgentUsage        map[string]int64
	ProductivityScore *float64
}

func newBucket(key Key) *Bucket {
	return &Bucket{
		Key:        key,
		AgentUsage: make(map[string]int64),
	}
}

// ApplyCommand folds one command execution into the running mean and error
// ratio using the incremental-average recurrence avg' = avg + (x-avg)/n.
func (b *Bucket) ApplyCommand(durationMs float64, isError bool) {
	b.CommandCount++
	n := float64(b.CommandCount)
	b.AvgExecutionMs += (durationMs - b.AvgExecutionMs) / n

	e := 0.0
	if isError {
		e = 1.0
	}
	b.ErrorRate += (e - b.ErrorRate) / n
}

func (b *Bucket) ApplyAgentInteraction(agentName string) {
	b.AgentUsage[agentName]++
}

// ApplyProductivity is last-write-wins: the bucket keeps the most recent
// score, not an average.
func (b *Bucket) ApplyProductivity(score float64) {
	b.ProductivityScore = &score
}

// Snapshot freezes the bucket for persistence and republication.
func (b *Bucket) Snapshot(flushedAt time.Time) *record.AggregateSnapshot {
	usage := make(shared.JSONMap, len(b.AgentUsage))
	for agent, count := range b.AgentUsage {
		usage[agent] = count
	}

	var score *float64
	if b.ProductivityScore != nil {
		v := *b.ProductivityScore
		score = &v
	}

	return &record.AggregateSnapshot{
		TenantID:          b.TenantID,
		UserID:            b.UserID,
		BucketStart:       b.BucketStart,
		CommandCount:      b.CommandCount,
		AvgExecutionMs:    b.AvgExecutionMs,
		ErrorRate:         b.ErrorRate,
		AgentUsage:        usage,
		ProductivityScore: score,
		FlushedAt:         flushedAt,
	}
}
