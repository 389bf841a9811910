package event

import (
	"encoding/json"
	"regexp"
)

const Redacted = "[REDACTED]"

var (
	sensitiveKey = regexp.MustCompile(`(?i)(password|secret|key|token|api|auth)`)

	// Matches key/value-like fragments inside free text, e.g.
	// `api_key=abc123`, `"token": "xyz"`, `password: hunter2`.
	sensitiveText = regexp.MustCompile(`(?i)(["']?[\w.-]*(?:password|secret|key|token|api|auth)[\w.-]*["']?\s*[:=]\s*)(["'][^"']*["']|[^\s,;}{\]]+)`)
)

// Sanitize rewrites the event payload in place, redacting any value whose key
// looks sensitive and scrubbing secret-looking fragments out of free text.
// Events are immutable once published, so this runs before publication only.
func Sanitize(e *MetricsEvent) error {
	if len(e.Payload) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return err
	}

	cleaned, err := json.Marshal(sanitizeValue(v))
	if err != nil {
		return err
	}
	e.Payload = cleaned
	return nil
}

func sanitizeValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if sensitiveKey.MatchString(k) {
				out[k] = Redacted
				continue
			}
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = sanitizeValue(val)
		}
		return out
	case string:
		return ScrubText(v)
	default:
		return v
	}
}

// ScrubText replaces the value half of secret-looking key/value fragments in
// free-form text with the redaction marker.
func ScrubText(s string) string {
	return sensitiveText.ReplaceAllString(s, "${1}"+Redacted)
}
