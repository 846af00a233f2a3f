// Package alert posts trust events to operator-configured webhooks:
// verify denials and broken audit chains. Delivery is fire-and-forget;
// a lost alert never blocks or fails the request that raised it.
package alert

// Alert event types.
const (
	EventDeny        = "deny"
	EventChainBroken = "chain_broken"
)

// AlertConfig defines a webhook alert destination. MaxRetries and
// RetryBackoffSeconds bound redelivery on 5xx; zero means the package
// defaults (3 attempts, one-second base backoff).
type AlertConfig struct {
	URL                 string            `yaml:"url"                   json:"url"`
	Format              string            `yaml:"format"                json:"format"` // "generic", "slack"
	Events              []string          `yaml:"events"                json:"events"` // ["deny", "chain_broken"]
	Headers             map[string]string `yaml:"headers"               json:"headers"`
	MaxRetries          int               `yaml:"max_retries"           json:"max_retries"`
	RetryBackoffSeconds int               `yaml:"retry_backoff_seconds" json:"retry_backoff_seconds"`
}

// AlertEvent is the payload sent to webhook endpoints. Deny alerts
// carry the agent and reason; chain_broken alerts carry the integrity
// verdict. Action payloads are never included.
type AlertEvent struct {
	Type            string `json:"type"`
	Timestamp       string `json:"timestamp"`
	WorkspaceID     string `json:"workspace_id"`
	AgentID         string `json:"agent_id,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
	ReasonCode      string `json:"reason_code,omitempty"`
	BrokenAtEventID string `json:"broken_at_event_id,omitempty"`
	CheckedCount    int    `json:"checked_count,omitempty"`
	Message         string `json:"message,omitempty"`
}
