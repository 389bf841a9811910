package record

import (
	"time"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

// ProcessedRecord is the persisted form of one event after kind dispatch:
// the envelope plus the derived fields its kind produced.
type ProcessedRecord struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	EventID      string         `gorm:"index" json:"event_id"`
	Kind         string         `gorm:"index" json:"kind"`
	TenantID     string         `gorm:"index" json:"tenant_id"`
	UserID       string         `gorm:"index" json:"user_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      shared.JSONMap `gorm:"type:jsonb" json:"payload"`
	Derived      shared.JSONMap `gorm:"type:jsonb" json:"derived"`
	Partition    int            `json:"partition"`
	Offset       string         `json:"offset"`
	ProcessedAt  time.Time      `json:"processed_at"`
	ProcessingMs int64          `json:"processing_ms"`
}

// AggregateSnapshot is one flushed (tenant, user, minute) bucket.
type AggregateSnapshot struct {
	ID                string         `gorm:"primaryKey" json:"id"`
	TenantID          string         `gorm:"index:idx_snapshot_bucket" json:"tenant_id"`
	UserID            string         `gorm:"index:idx_snapshot_bucket" json:"user_id"`
	BucketStart       time.Time      `gorm:"index:idx_snapshot_bucket" json:"bucket_start"`
	CommandCount      int64          `json:"command_count"`
	AvgExecutionMs    float64        `json:"avg_execution_ms"`
	ErrorRate         float64        `json:"error_rate"`
	AgentUsage        shared.JSONMap `gorm:"type:jsonb" json:"agent_usage"`
	ProductivityScore *float64       `json:"productivity_score,omitempty"`
	FlushedAt         time.Time      `json:"flushed_at"`
}

// DeadLetter is terminal: kept for operator inspection, never auto-replayed.
type DeadLetter struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Topic     string    `gorm:"index" json:"topic"`
	Partition int       `json:"partition"`
	Offset    string    `json:"offset"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	FailedAt  time.Time `gorm:"index" json:"failed_at"`
}
