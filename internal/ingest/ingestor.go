package ingest

import (
	"context"
	"log/slog"
	"math"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

const (
	RejectedInvalid     = "invalid"
	RejectedRateLimited = "rate_limited"
)

type Publisher interface {
	PublishEvent(ctx context.Context, ev *event.MetricsEvent) (partition int, offset string, err error)
}

// Result is the structured ingress outcome. Callers never see raw internal
// errors for validation or quota rejections.
type Result struct {
	Accepted          bool   `json:"accepted"`
	Rejected          string `json:"rejected,omitempty"`
	Detail            string `json:"detail,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	Remaining         int    `json:"remaining,omitempty"`
	EventID           string `json:"event_id,omitempty"`
}

type BatchResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Results  []Result `json:"results"`
}

// Ingestor is the front door of the pipeline: validate, rate-limit,
// sanitize, publish. Once publish succeeds the caller is done; any later
// failure is visible only through dead letters and health metrics.
type Ingestor struct {
	limiter   *RateLimiter
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Pipeline
}

func NewIngestor(limiter *RateLimiter, publisher Publisher, logger *slog.Logger, m *metrics.Pipeline) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		limiter:   limiter,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// SubmitEvent admits one event. A non-nil error means the event log itself
// was unavailable; the caller decides whether to retry.
func (i *Ingestor) SubmitEvent(ctx context.Context, ev *event.MetricsEvent) (Result, error) {
	return i.submit(ctx, ev, i.limiter.Allow)
}

// SubmitBatch admits events individually against the batch quota. Items keep
// their order in the results.
func (i *Ingestor) SubmitBatch(ctx context.Context, events []*event.MetricsEvent) (BatchResult, error) {
	batch := BatchResult{Results: make([]Result, 0, len(events))}

	for _, ev := range events {
		res, err := i.submit(ctx, ev, i.limiter.AllowBatchItem)
		if err != nil {
			return batch, err
		}
		if res.Accepted {
			batch.Accepted++
		} else {
			batch.Rejected++
		}
		batch.Results = append(batch.Results, res)
	}
	return batch, nil
}

func (i *Ingestor) submit(ctx context.Context, ev *event.MetricsEvent, admit func(string) Decision) (Result, error) {
	if err := event.Validate(ev); err != nil {
		i.metrics.EventsRejected.WithLabelValues(RejectedInvalid).Inc()
		return Result{Rejected: RejectedInvalid, Detail: err.Error()}, nil
	}

	decision := admit(ev.TenantID)
	if !decision.Allowed {
		i.metrics.EventsRejected.WithLabelValues(RejectedRateLimited).Inc()
		return Result{
			Rejected:          RejectedRateLimited,
			RetryAfterSeconds: retryAfterSeconds(decision),
		}, nil
	}

	if err := event.Sanitize(ev); err != nil {
		i.metrics.EventsRejected.WithLabelValues(RejectedInvalid).Inc()
		return Result{Rejected: RejectedInvalid, Detail: "payload could not be sanitized"}, nil
	}

	if ev.ID == "" {
		ev.ID = shared.NewID("evt_")
	}

	partition, offset, err := i.publisher.PublishEvent(ctx, ev)
	if err != nil {
		i.logger.Error("publish failed", "tenant", ev.TenantID, "error", err)
		return Result{}, err
	}

	i.metrics.EventsAccepted.Inc()
	i.logger.Debug("event accepted",
		"tenant", ev.TenantID, "kind", ev.Kind, "partition", partition, "offset", offset)

	return Result{
		Accepted:  true,
		Remaining: decision.Remaining,
		EventID:   ev.ID,
	}, nil
}

func retryAfterSeconds(d Decision) int64 {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
