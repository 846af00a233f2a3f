package audit

import (
	"encoding/csv"
	"strings"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// CSVColumns is the fixed delimited-export column order. External
// tooling parses exports positionally; do not reorder.
var CSVColumns = []string{
	"id",
	"event_time",
	"event_type",
	"workspace_id",
	"actor_type",
	"actor_id",
	"subject_type",
	"subject_id",
	"reason_code",
	"prev_hash",
	"event_hash",
}

// ExportRecord is the JSON export shape. The payload_hash pre-image
// field is internal-only and never exported; prev_hash and event_hash
// stay visible so exports remain independently verifiable.
type ExportRecord struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	EventType   string         `json:"event_type"`
	ActorType   string         `json:"actor_type"`
	ActorID     string         `json:"actor_id,omitempty"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id,omitempty"`
	EventTime   string         `json:"event_time"`
	EventData   map[string]any `json:"event_data"`
	PrevHash    string         `json:"prev_hash,omitempty"`
	EventHash   string         `json:"event_hash,omitempty"`
}

// ToExportRecords converts events to the JSON export shape.
func ToExportRecords(events []model.AuditEvent) []ExportRecord {
	out := make([]ExportRecord, len(events))
	for i, ev := range events {
		out[i] = ExportRecord{
			ID:          ev.ID,
			WorkspaceID: ev.WorkspaceID,
			EventType:   ev.EventType,
			ActorType:   ev.ActorType,
			ActorID:     ev.ActorID,
			SubjectType: ev.SubjectType,
			SubjectID:   ev.SubjectID,
			EventTime:   model.FormatTime(ev.EventTime),
			EventData:   ev.EventData,
			PrevHash:    ev.PrevHash,
			EventHash:   ev.EventHash,
		}
	}
	return out
}

// BuildCSV renders events as delimited text with the fixed column order.
func BuildCSV(events []model.AuditEvent) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(CSVColumns); err != nil {
		return "", err
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			model.FormatTime(ev.EventTime),
			ev.EventType,
			ev.WorkspaceID,
			ev.ActorType,
			ev.ActorID,
			ev.SubjectType,
			ev.SubjectID,
			reasonCode(ev),
			ev.PrevHash,
			ev.EventHash,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

// reasonCode extracts the decision reason from event data, accepting the
// legacy "reason" key from early chains.
func reasonCode(ev model.AuditEvent) string {
	if s, ok := ev.EventData["reason_code"].(string); ok {
		return s
	}
	if s, ok := ev.EventData["reason"].(string); ok {
		return s
	}
	return ""
}
