// Package audit implements the tamper-evident, hash-chained audit log.
// Every trust decision is recorded as an AuditEvent in an append-only
// per-workspace chain: each event's hash covers its own canonical
// content plus the previous event's hash, so silent edits or deletions
// are detectable from the first altered entry onward.
package audit

import (
	"fmt"

	"github.com/kevinmarty69/know-your-agent/internal/canonical"
	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// ComputeEventHash returns "sha256:<hex>" over the canonical encoding of
// the event's hashed fields. The field set and null handling are part of
// the cross-language contract; changing either breaks every existing
// chain.
func ComputeEventHash(ev *model.AuditEvent) (string, error) {
	payload := map[string]any{
		"id":           ev.ID,
		"workspace_id": ev.WorkspaceID,
		"event_time":   model.FormatTime(ev.EventTime),
		"event_type":   ev.EventType,
		"actor_type":   ev.ActorType,
		"actor_id":     nullIfEmpty(ev.ActorID),
		"subject_type": ev.SubjectType,
		"subject_id":   nullIfEmpty(ev.SubjectID),
		"event_data":   ev.EventData,
		"payload_hash": nullIfEmpty(ev.PayloadHash),
		"prev_hash":    nullIfEmpty(ev.PrevHash),
	}
	hash, err := canonical.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("audit: hash event %s: %w", ev.ID, err)
	}
	return hash, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
