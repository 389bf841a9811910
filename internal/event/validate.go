package event

import (
	"encoding/json"
	"fmt"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks the envelope and the kind-specific payload schema.
// It does not mutate the event; call Sanitize afterwards on admitted events.
func Validate(e *MetricsEvent) error {
	if e == nil {
		return invalid("event", "missing")
	}
	if e.TenantID == "" {
		return invalid("tenant_id", "required")
	}
	if e.UserID == "" {
		return invalid("user_id", "required")
	}
	if e.Timestamp.IsZero() {
		return invalid("timestamp", "required")
	}
	if !e.Kind.Valid() {
		return invalid("kind", fmt.Sprintf("unknown event kind %q", e.Kind))
	}
	if len(e.Payload) == 0 {
		return invalid("payload", "required")
	}
	if !json.Valid(e.Payload) {
		return invalid("payload", "not valid JSON")
	}

	p, err := e.Decode()
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			return verr
		}
		return invalid("payload", err.Error())
	}

	switch p := p.(type) {
	case CommandExecutionPayload:
		if p.Command == "" {
			return invalid("payload.command", "required")
		}
		if p.Status != StatusSuccess && p.Status != StatusError {
			return invalid("payload.status", fmt.Sprintf("must be %q or %q", StatusSuccess, StatusError))
		}
		if p.DurationMs < 0 {
			return invalid("payload.duration_ms", "must not be negative")
		}
	case AgentInteractionPayload:
		if p.AgentName == "" {
			return invalid("payload.agent_name", "required")
		}
		if p.InputTokens != nil && *p.InputTokens < 0 {
			return invalid("payload.input_tokens", "must not be negative")
		}
		if p.OutputTokens != nil && *p.OutputTokens < 0 {
			return invalid("payload.output_tokens", "must not be negative")
		}
	case UserSessionPayload:
		if p.DurationMinutes < 0 {
			return invalid("payload.duration_minutes", "must not be negative")
		}
		if p.CommandCount < 0 {
			return invalid("payload.command_count", "must not be negative")
		}
	case ProductivityMetricPayload:
		if p.MetricType == "" {
			return invalid("payload.metric_type", "required")
		}
	}

	return nil
}
