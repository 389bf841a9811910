package record

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

const snapshotBatchSize = 100

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&ProcessedRecord{}, &AggregateSnapshot{}, &DeadLetter{})
}

func (s *Store) CreateRecord(ctx context.Context, r *ProcessedRecord) error {
	if r.ID == "" {
		r.ID = shared.NewID("rec_")
	}
	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(r).Error
}

// CreateSnapshots persists one flush as a single batch write. The flusher
// retries the whole call, so partial success must not leave the batch half
// applied: everything runs in one transaction.
func (s *Store) CreateSnapshots(ctx context.Context, snapshots []*AggregateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap.ID == "" {
			snap.ID = shared.NewID("agg_")
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(snapshots, snapshotBatchSize).Error
	})
}

func (s *Store) CreateDeadLetter(ctx context.Context, d *DeadLetter) error {
	if d.ID == "" {
		d.ID = shared.NewID("dlq_")
	}
	if d.FailedAt.IsZero() {
		d.FailedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *Store) GetRecord(ctx context.Context, id string) (*ProcessedRecord, error) {
	var r ProcessedRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &r, err
}

func (s *Store) RecordsByTenant(ctx context.Context, tenantID string, limit int) ([]*ProcessedRecord, error) {
	var records []*ProcessedRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (s *Store) SnapshotsByTenant(ctx context.Context, tenantID string, since time.Time) ([]*AggregateSnapshot, error) {
	var snapshots []*AggregateSnapshot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND bucket_start >= ?", tenantID, since).
		Order("bucket_start ASC").
		Find(&snapshots).Error
	return snapshots, err
}

func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]*DeadLetter, error) {
	var letters []*DeadLetter
	err := s.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&letters).Error
	return letters, err
}
