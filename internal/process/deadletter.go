package process

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

// DeadLetterRecord is the wire form published to the dead-letter stream.
type DeadLetterRecord struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    string    `json:"offset"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, d *record.DeadLetter) error
}

// DeadLetterRouter captures unrecoverable per-message failures with their
// diagnostic context. Routing never returns an error to the worker: a bad
// message must not block its partition, so failures here are only logged.
type DeadLetterRouter struct {
	log     Appender
	store   DeadLetterStore
	logger  *slog.Logger
	metrics *metrics.Pipeline
}

func NewDeadLetterRouter(log Appender, store DeadLetterStore, logger *slog.Logger, m *metrics.Pipeline) *DeadLetterRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterRouter{log: log, store: store, logger: logger, metrics: m}
}

func (r *DeadLetterRouter) Route(ctx context.Context, topic string, partition int, offset string, payload []byte, cause error) {
	rec := DeadLetterRecord{
		ID:        shared.NewID("dlq_"),
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Payload:   string(payload),
		Error:     cause.Error(),
		FailedAt:  time.Now(),
	}

	r.metrics.DeadLetters.Inc()
	r.logger.Error("message dead-lettered",
		"topic", topic, "partition", partition, "offset", offset, "error", cause)

	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Error("marshal dead-letter record", "error", err)
		return
	}
	if _, err := r.log.Append(ctx, stream.TopicDeadLetter, data); err != nil {
		r.logger.Error("publish dead-letter record", "offset", offset, "error", err)
	}

	if err := r.store.CreateDeadLetter(ctx, &record.DeadLetter{
		ID:        rec.ID,
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Payload:   rec.Payload,
		Error:     rec.Error,
		FailedAt:  rec.FailedAt,
	}); err != nil {
		r.logger.Error("persist dead-letter record", "offset", offset, "error", err)
	}
}
