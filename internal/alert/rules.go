package alert

import (
	"fmt"
	"time"

	"github.com/meridianhq/telemetry-backend/internal/record"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is emitted to the alert sink; notification delivery is someone
// else's job.
type Alert struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	MetricValue float64   `json:"metric_value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Rule is one static threshold check over a flushed bucket. Value reports
// ok=false when the bucket does not carry the metric, which suppresses the
// rule rather than treating absence as zero.
type Rule struct {
	Type      string
	Severity  Severity
	Threshold float64
	Value     func(s *record.AggregateSnapshot) (float64, bool)
	Trigger   func(value, threshold float64) bool
	Message   func(s *record.AggregateSnapshot, value float64) string
}

func DefaultRules() []Rule {
	return []Rule{
		{
			Type:      "high_error_rate",
			Severity:  SeverityHigh,
			Threshold: 0.10,
			Value: func(s *record.AggregateSnapshot) (float64, bool) {
				return s.ErrorRate, s.CommandCount > 0
			},
			Trigger: func(v, t float64) bool { return v > t },
			Message: func(s *record.AggregateSnapshot, v float64) string {
				return fmt.Sprintf("error rate %.1f%% over %d commands for tenant %s", v*100, s.CommandCount, s.TenantID)
			},
		},
		{
			Type:      "low_productivity",
			Severity:  SeverityMedium,
			Threshold: 50,
			Value: func(s *record.AggregateSnapshot) (float64, bool) {
				if s.ProductivityScore == nil {
					return 0, false
				}
				return *s.ProductivityScore, true
			},
			Trigger: func(v, t float64) bool { return v < t },
			Message: func(s *record.AggregateSnapshot, v float64) string {
				return fmt.Sprintf("productivity score %.0f below threshold for user %s", v, s.UserID)
			},
		},
	}
}
