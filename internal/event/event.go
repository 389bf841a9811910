package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindCommandExecution   Kind = "command_execution"
	KindAgentInteraction   Kind = "agent_interaction"
	KindUserSession        Kind = "user_session"
	KindProductivityMetric Kind = "productivity_metric"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCommandExecution, KindAgentInteraction, KindUserSession, KindProductivityMetric:
		return true
	}
	return false
}

// MetricsEvent is the immutable ingress envelope. The payload stays raw until
// kind dispatch so that publication never depends on payload shape.
type MetricsEvent struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type CommandStatus string

const (
	StatusSuccess CommandStatus = "success"
	StatusError   CommandStatus = "error"
)

type CommandExecutionPayload struct {
	Command         string        `json:"command"`
	Status          CommandStatus `json:"status"`
	DurationMs      float64       `json:"duration_ms"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	WorkingContext  string        `json:"working_context,omitempty"`
}

type AgentInteractionPayload struct {
	AgentName    string `json:"agent_name"`
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`
	Model        string `json:"model,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
}

type UserSessionPayload struct {
	DurationMinutes float64 `json:"duration_minutes"`
	CommandCount    int64   `json:"command_count"`
	Client          string  `json:"client,omitempty"`
}

type MetricType string

const (
	MetricProductivityScore MetricType = "productivity_score"
	MetricErrorRate         MetricType = "error_rate"
	MetricCommandsPerHour   MetricType = "commands_per_hour"
)

type ProductivityMetricPayload struct {
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Notes      string     `json:"notes,omitempty"`
}

// Payload is the decoded, kind-specific half of a MetricsEvent.
type Payload interface {
	EventKind() Kind
}

func (CommandExecutionPayload) EventKind() Kind   { return KindCommandExecution }
func (AgentInteractionPayload) EventKind() Kind   { return KindAgentInteraction }
func (UserSessionPayload) EventKind() Kind        { return KindUserSession }
func (ProductivityMetricPayload) EventKind() Kind { return KindProductivityMetric }

// Decode unmarshals the raw payload into its kind-specific type. Unknown
// kinds are an error here, never a silent fallthrough downstream.
func (e *MetricsEvent) Decode() (Payload, error) {
	switch e.Kind {
	case KindCommandExecution:
		var p CommandExecutionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode command_execution payload: %w", err)
		}
		return p, nil
	case KindAgentInteraction:
		var p AgentInteractionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode agent_interaction payload: %w", err)
		}
		return p, nil
	case KindUserSession:
		var p UserSessionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode user_session payload: %w", err)
		}
		return p, nil
	case KindProductivityMetric:
		var p ProductivityMetricPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode productivity_metric payload: %w", err)
		}
		return p, nil
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown event kind %q", e.Kind)}
	}
}

// MinuteBucket floors the event timestamp to its aggregation window.
func (e *MetricsEvent) MinuteBucket() time.Time {
	return e.Timestamp.Truncate(time.Minute)
}
