package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	headline := fmt.Sprintf("kya: action denied (%s)", event.ReasonCode)
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Workspace:* %s", event.WorkspaceID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", event.AgentID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", event.ActionType)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.ReasonCode)},
	}
	if event.Type == EventChainBroken {
		headline = "kya: audit chain BROKEN"
		fields = []any{
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Workspace:* %s", event.WorkspaceID)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Broken at:* %s", event.BrokenAtEventID)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Checked:* %d", event.CheckedCount)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", event.Message)},
		}
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": headline,
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}
