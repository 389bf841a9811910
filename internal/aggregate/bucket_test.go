package aggregate

import (
	"math"
	"testing"
	"time"
)

func testKey() Key {
	return Key{
		TenantID:    "tenant-a",
		UserID:      "user-1",
		BucketStart: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyCommand_IncrementalMean(t *testing.T) {
	b := newBucket(testKey())

	durations := []float64{100, 200, 300, 400}
	for _, d := range durations {
		b.ApplyCommand(d, false)
	}

	if b.CommandCount != 4 {
		t.Errorf("count = %d, want 4", b.CommandCount)
	}
	if math.Abs(b.AvgExecutionMs-250) > 1e-9 {
		t.Errorf("avg = %v, want 250", b.AvgExecutionMs)
	}
	if b.ErrorRate != 0 {
		t.Errorf("error rate = %v, want 0", b.ErrorRate)
	}
}

func TestApplyCommand_ErrorRatio(t *testing.T) {
	b := newBucket(testKey())

	// 1 error out of 4
	b.ApplyCommand(100, true)
	b.ApplyCommand(100, false)
	b.ApplyCommand(100, false)
	b.ApplyCommand(100, false)

	if math.Abs(b.ErrorRate-0.25) > 1e-9 {
		t.Errorf("error rate = %v, want 0.25", b.ErrorRate)
	}
}

func TestApplyAgentInteraction_CountsByAgent(t *testing.T) {
	b := newBucket(testKey())

	b.ApplyAgentInteraction("planner")
	b.ApplyAgentInteraction("planner")
	b.ApplyAgentInteraction("reviewer")

	if b.AgentUsage["planner"] != 2 || b.AgentUsage["reviewer"] != 1 {
		t.Errorf("agent usage = %v", b.AgentUsage)
	}
}

func TestApplyProductivity_LastWriteWins(t *testing.T) {
	b := newBucket(testKey())

	b.ApplyProductivity(40)
	b.ApplyProductivity(85)

	if b.ProductivityScore == nil || *b.ProductivityScore != 85 {
		t.Errorf("productivity score = %v, want 85", b.ProductivityScore)
	}
}

func TestSnapshot_CopiesState(t *testing.T) {
	b := newBucket(testKey())
	b.ApplyCommand(120, false)
	b.ApplyAgentInteraction("planner")
	b.ApplyProductivity(70)

	flushedAt := time.Now()
	snap := b.Snapshot(flushedAt)

	if snap.TenantID != "tenant-a" || snap.UserID != "user-1" {
		t.Errorf("snapshot identity = %s/%s", snap.TenantID, snap.UserID)
	}
	if !snap.BucketStart.Equal(b.BucketStart) {
		t.Errorf("bucket start = %v", snap.BucketStart)
	}
	if snap.CommandCount != 1 || snap.AvgExecutionMs != 120 {
		t.Errorf("snapshot counts = %d/%v", snap.CommandCount, snap.AvgExecutionMs)
	}
	if snap.ProductivityScore == nil || *snap.ProductivityScore != 70 {
		t.Errorf("snapshot score = %v", snap.ProductivityScore)
	}
	if !snap.FlushedAt.Equal(flushedAt) {
		t.Errorf("flushed at = %v", snap.FlushedAt)
	}

	// later bucket mutation must not reach the snapshot
	b.ApplyProductivity(10)
	if *snap.ProductivityScore != 70 {
		t.Error("snapshot score aliased to live bucket")
	}
}

func TestSnapshot_NoProductivityScore(t *testing.T) {
	b := newBucket(testKey())
	b.ApplyCommand(50, false)

	snap := b.Snapshot(time.Now())
	if snap.ProductivityScore != nil {
		t.Errorf("score = %v, want nil when never observed", snap.ProductivityScore)
	}
}
