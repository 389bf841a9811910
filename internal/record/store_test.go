package record

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	store := NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestCreateRecord_AssignsIDAndTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &ProcessedRecord{
		EventID:   "evt_1",
		Kind:      "command_execution",
		TenantID:  "tenant-a",
		UserID:    "user-1",
		Timestamp: time.Now(),
		Derived:   shared.JSONMap{"performance_tier": "fast"},
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("record should be assigned an id")
	}
	if rec.ProcessedAt.IsZero() {
		t.Error("record should be assigned a processed_at timestamp")
	}

	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Derived["performance_tier"] != "fast" {
		t.Errorf("derived fields not round-tripped: %v", got.Derived)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRecord(context.Background(), "rec_missing")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

func TestRecordsByTenant_FiltersAndOrders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		rec := &ProcessedRecord{
			EventID:   fmt.Sprintf("evt_a%d", i),
			TenantID:  "tenant-a",
			UserID:    "user-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
	}
	if err := store.CreateRecord(ctx, &ProcessedRecord{
		EventID: "evt_b", TenantID: "tenant-b", UserID: "user-2", Timestamp: base,
	}); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	records, err := store.RecordsByTenant(ctx, "tenant-a", 10)
	if err != nil {
		t.Fatalf("RecordsByTenant() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, r := range records {
		if r.TenantID != "tenant-a" {
			t.Errorf("record %s belongs to %s", r.ID, r.TenantID)
		}
	}
	if records[0].EventID != "evt_a2" {
		t.Errorf("newest record first, got %s", records[0].EventID)
	}
}

func TestCreateSnapshots_Batch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	bucket := time.Now().Truncate(time.Minute)

	snaps := []*AggregateSnapshot{
		{TenantID: "tenant-a", UserID: "user-1", BucketStart: bucket, CommandCount: 5, AvgExecutionMs: 120},
		{TenantID: "tenant-a", UserID: "user-2", BucketStart: bucket, CommandCount: 2, AvgExecutionMs: 90},
	}
	if err := store.CreateSnapshots(ctx, snaps); err != nil {
		t.Fatalf("CreateSnapshots() error = %v", err)
	}
	for _, s := range snaps {
		if s.ID == "" {
			t.Error("snapshot should be assigned an id")
		}
	}

	got, err := store.SnapshotsByTenant(ctx, "tenant-a", bucket.Add(-time.Minute))
	if err != nil {
		t.Fatalf("SnapshotsByTenant() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d snapshots, want 2", len(got))
	}
}

func TestCreateSnapshots_EmptyIsNoop(t *testing.T) {
	store := setupTestStore(t)

	if err := store.CreateSnapshots(context.Background(), nil); err != nil {
		t.Fatalf("CreateSnapshots(nil) error = %v", err)
	}
}

func TestDeadLetters_ListNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		dl := &DeadLetter{
			Topic:     "metrics:raw:0",
			Partition: 0,
			Offset:    fmt.Sprintf("1-%d", i),
			Payload:   "{}",
			Error:     "decode: boom",
			FailedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateDeadLetter(ctx, dl); err != nil {
			t.Fatalf("CreateDeadLetter() error = %v", err)
		}
	}

	letters, err := store.ListDeadLetters(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListDeadLetters() error = %v", err)
	}
	if len(letters) != 2 {
		t.Fatalf("got %d dead letters, want 2", len(letters))
	}
	if letters[0].Offset != "1-2" {
		t.Errorf("newest dead letter first, got offset %s", letters[0].Offset)
	}
}
