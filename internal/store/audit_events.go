package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// InsertAuditEvent persists one chain entry. The caller (audit.Chain)
// has already computed the hash fields under the workspace lock.
func (s *Store) InsertAuditEvent(ctx context.Context, q DBTX, ev *model.AuditEvent) error {
	data, err := marshalJSON(ev.EventData)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_events (id, workspace_id, event_type, actor_type, actor_id,
			subject_type, subject_id, event_time, event_data, payload_hash, prev_hash, event_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkspaceID, ev.EventType, ev.ActorType, nullable(ev.ActorID),
		ev.SubjectType, nullable(ev.SubjectID), model.FormatTime(ev.EventTime),
		data, nullable(ev.PayloadHash), nullable(ev.PrevHash), nullable(ev.EventHash),
	)
	if err != nil {
		return fmt.Errorf("store: insert audit event: %w", err)
	}
	return nil
}

// TailEventHash returns the event_hash of the newest event in the
// workspace's chain (by descending time then id), or "" when the chain
// is empty. Must be called under the workspace's serialization lock.
func (s *Store) TailEventHash(ctx context.Context, q DBTX, workspaceID string) (string, error) {
	var hash sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT event_hash FROM audit_events
		WHERE workspace_id = ?
		ORDER BY event_time DESC, id DESC
		LIMIT 1`,
		workspaceID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: select chain tail: %w", err)
	}
	return hash.String, nil
}

// EventsWindow loads a workspace's events in the inclusive [from, to]
// window ordered ascending by (event_time, id), the order the integrity
// walk requires. Nil bounds are open.
func (s *Store) EventsWindow(ctx context.Context, q DBTX, workspaceID string, from, to *time.Time) ([]model.AuditEvent, error) {
	query := `
		SELECT id, workspace_id, event_type, actor_type, actor_id, subject_type,
			subject_id, event_time, event_data, payload_hash, prev_hash, event_hash
		FROM audit_events WHERE workspace_id = ?`
	args := []any{workspaceID}
	if from != nil {
		query += ` AND event_time >= ?`
		args = append(args, model.FormatTime(*from))
	}
	if to != nil {
		query += ` AND event_time <= ?`
		args = append(args, model.FormatTime(*to))
	}
	query += ` ORDER BY event_time ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select events window: %w", err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

// AuditQuery filters the paginated audit listing.
type AuditQuery struct {
	WorkspaceID string
	From        *time.Time
	To          *time.Time
	EventType   string
	SubjectID   string
	Decision    string
	Limit       int
	Offset      int
}

// ListAuditEvents returns a filtered page of events, newest first, plus
// the total row count for the filter.
func (s *Store) ListAuditEvents(ctx context.Context, q DBTX, query AuditQuery) ([]model.AuditEvent, int, error) {
	where := ` FROM audit_events WHERE workspace_id = ?`
	args := []any{query.WorkspaceID}
	if query.From != nil {
		where += ` AND event_time >= ?`
		args = append(args, model.FormatTime(*query.From))
	}
	if query.To != nil {
		where += ` AND event_time <= ?`
		args = append(args, model.FormatTime(*query.To))
	}
	if query.EventType != "" {
		where += ` AND event_type = ?`
		args = append(args, query.EventType)
	}
	if query.SubjectID != "" {
		where += ` AND subject_id = ?`
		args = append(args, query.SubjectID)
	}
	if query.Decision != "" {
		where += ` AND json_extract(event_data, '$.decision') = ?`
		args = append(args, query.Decision)
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count audit events: %w", err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	sel := `
		SELECT id, workspace_id, event_type, actor_type, actor_id, subject_type,
			subject_id, event_time, event_data, payload_hash, prev_hash, event_hash` +
		where + ` ORDER BY event_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, query.Offset)

	rows, err := q.QueryContext(ctx, sel, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list audit events: %w", err)
	}
	defer rows.Close()
	events, err := scanAuditEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func scanAuditEvents(rows *sql.Rows) ([]model.AuditEvent, error) {
	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var actorID, subjectID, payloadHash, prevHash, eventHash sql.NullString
		var eventTime, eventData string
		if err := rows.Scan(&ev.ID, &ev.WorkspaceID, &ev.EventType, &ev.ActorType,
			&actorID, &ev.SubjectType, &subjectID, &eventTime, &eventData,
			&payloadHash, &prevHash, &eventHash); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		ev.ActorID = actorID.String
		ev.SubjectID = subjectID.String
		ev.PayloadHash = payloadHash.String
		ev.PrevHash = prevHash.String
		ev.EventHash = eventHash.String
		var err error
		if ev.EventTime, err = model.ParseTime(eventTime); err != nil {
			return nil, fmt.Errorf("store: parse event_time: %w", err)
		}
		if ev.EventData, err = unmarshalJSON(eventData); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
