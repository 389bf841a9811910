package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

type Appender interface {
	Append(ctx context.Context, topic string, payload []byte) (string, error)
}

// Evaluator consumes the aggregated-bucket log and applies the rule list to
// every flushed snapshot.
type Evaluator struct {
	redis   *redis.Client
	sink    Appender
	rules   []Rule
	batch   int64
	poll    time.Duration
	logger  *slog.Logger
	metrics *metrics.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEvaluator(redisClient *redis.Client, sink Appender, rules []Rule, logger *slog.Logger, m *metrics.Pipeline) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		redis:   redisClient,
		sink:    sink,
		rules:   rules,
		batch:   64,
		poll:    250 * time.Millisecond,
		logger:  logger,
		metrics: m,
	}
}

func (e *Evaluator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.run(ctx)
}

func (e *Evaluator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Evaluator) run(ctx context.Context) {
	defer e.wg.Done()

	reader := stream.NewReader(e.redis, stream.TopicAggregated, e.batch)
	timer := time.NewTimer(e.poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("fetch aggregated buckets", "error", err)
		}

		for _, msg := range msgs {
			var snap record.AggregateSnapshot
			if err := json.Unmarshal(msg.Payload, &snap); err != nil {
				e.logger.Warn("malformed aggregated bucket", "offset", msg.Offset, "error", err)
				reader.Advance(msg.Offset)
				continue
			}
			e.evaluate(ctx, &snap)
			reader.Advance(msg.Offset)
		}

		if len(msgs) == 0 {
			timer.Reset(e.poll)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, snap *record.AggregateSnapshot) {
	for _, alert := range EvaluateBucket(e.rules, snap) {
		data, err := json.Marshal(alert)
		if err != nil {
			e.logger.Error("marshal alert", "type", alert.Type, "error", err)
			continue
		}
		if _, err := e.sink.Append(ctx, stream.TopicAlerts, data); err != nil {
			e.logger.Error("publish alert", "type", alert.Type, "tenant", alert.TenantID, "error", err)
			continue
		}
		e.metrics.AlertsEmitted.WithLabelValues(string(alert.Severity)).Inc()
		e.logger.Info("alert emitted",
			"type", alert.Type, "severity", alert.Severity, "tenant", alert.TenantID, "value", alert.MetricValue)
	}
}

// EvaluateBucket applies the rules to one snapshot and returns the alerts it
// triggers.
func EvaluateBucket(rules []Rule, snap *record.AggregateSnapshot) []Alert {
	var alerts []Alert
	for _, rule := range rules {
		value, ok := rule.Value(snap)
		if !ok || !rule.Trigger(value, rule.Threshold) {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          shared.NewID("alert_"),
			Type:        rule.Type,
			Severity:    rule.Severity,
			TenantID:    snap.TenantID,
			UserID:      snap.UserID,
			MetricValue: value,
			Threshold:   rule.Threshold,
			Message:     rule.Message(snap, value),
			Timestamp:   time.Now(),
		})
	}
	return alerts
}
