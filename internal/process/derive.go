package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/rank"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

// Derive computes the kind-specific derived fields. Everything here is a
// pure function of the payload, so reprocessing the same event yields the
// same fields; only the percentile rank consults the ranking collaborator.
func Derive(ctx context.Context, ev *event.MetricsEvent, payload event.Payload, ranker rank.Ranker) (shared.JSONMap, error) {
	switch p := payload.(type) {
	case event.CommandExecutionPayload:
		return deriveCommandExecution(p), nil
	case event.AgentInteractionPayload:
		return deriveAgentInteraction(p), nil
	case event.UserSessionPayload:
		return deriveUserSession(p), nil
	case event.ProductivityMetricPayload:
		return deriveProductivityMetric(ctx, ev.TenantID, p, ranker)
	default:
		return nil, fmt.Errorf("no derivation for payload %T", payload)
	}
}

func deriveCommandExecution(p event.CommandExecutionPayload) shared.JSONMap {
	successRate := 0.0
	if p.Status == event.StatusSuccess {
		successRate = 1.0
	}

	derived := shared.JSONMap{
		"success_rate":     successRate,
		"performance_tier": performanceTier(p.DurationMs),
		"duration_ms":      p.DurationMs,
	}
	if p.Status == event.StatusError {
		derived["error_category"] = classifyError(p.ErrorMessage)
	}
	return derived
}

func performanceTier(durationMs float64) string {
	switch {
	case durationMs < 1_000:
		return "fast"
	case durationMs < 5_000:
		return "medium"
	case durationMs < 15_000:
		return "slow"
	default:
		return "very_slow"
	}
}

func classifyError(message string) string {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "dns"):
		return "network"
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed"):
		return "validation"
	case strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		return "authentication"
	default:
		return "other"
	}
}

func deriveAgentInteraction(p event.AgentInteractionPayload) shared.JSONMap {
	var input, output int64
	if p.InputTokens != nil {
		input = *p.InputTokens
	}
	if p.OutputTokens != nil {
		output = *p.OutputTokens
	}

	derived := shared.JSONMap{
		"complexity_level": complexityLevel(input + output),
	}
	if p.InputTokens != nil && p.OutputTokens != nil && input+output > 0 {
		derived["token_efficiency"] = float64(output) / float64(input+output)
	}
	return derived
}

func complexityLevel(totalTokens int64) string {
	switch {
	case totalTokens < 100:
		return "simple"
	case totalTokens < 500:
		return "medium"
	case totalTokens < 2_000:
		return "complex"
	default:
		return "very_complex"
	}
}

func deriveUserSession(p event.UserSessionPayload) shared.JSONMap {
	commandBoost := float64(p.CommandCount) * 2
	if commandBoost > 30 {
		commandBoost = 30
	}

	fatiguePenalty := (p.DurationMinutes - 60) * 0.1
	if fatiguePenalty < 0 {
		fatiguePenalty = 0
	}

	index := clamp(50+commandBoost-fatiguePenalty, 0, 100)

	return shared.JSONMap{
		"productivity_index": index,
		"session_quality":    sessionQuality(index),
	}
}

func sessionQuality(index float64) string {
	switch {
	case index >= 80:
		return "excellent"
	case index >= 60:
		return "good"
	case index >= 40:
		return "fair"
	default:
		return "poor"
	}
}

func deriveProductivityMetric(ctx context.Context, tenantID string, p event.ProductivityMetricPayload, ranker rank.Ranker) (shared.JSONMap, error) {
	var normalized float64
	switch p.MetricType {
	case event.MetricProductivityScore:
		normalized = clamp(p.Value, 0, 100)
	case event.MetricErrorRate:
		normalized = (1 - p.Value) * 100
	case event.MetricCommandsPerHour:
		normalized = p.Value / 10
	default:
		normalized = p.Value
	}

	percentile, err := ranker.Percentile(ctx, tenantID, p.MetricType, p.Value)
	if err != nil {
		return nil, fmt.Errorf("percentile rank: %w", err)
	}
	if err := ranker.Observe(ctx, tenantID, p.MetricType, p.Value); err != nil {
		return nil, fmt.Errorf("record observation: %w", err)
	}

	return shared.JSONMap{
		"normalized_value": normalized,
		"percentile_rank":  percentile,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
