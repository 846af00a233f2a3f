package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kevinmarty69/know-your-agent/internal/alert"
	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

// parseTimeParam accepts RFC3339 timestamps in query strings.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "VALIDATION_ERROR", name+" must be an RFC 3339 timestamp")
	}
	utc := t.UTC()
	return &utc, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.NewError(model.KindValidation, "VALIDATION_ERROR", name+" must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) auditQueryFromRequest(r *http.Request) (store.AuditQuery, error) {
	query := store.AuditQuery{WorkspaceID: workspaceID(r)}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		return query, err
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		return query, err
	}
	query.From, query.To = from, to
	query.EventType = r.URL.Query().Get("event_type")
	query.SubjectID = r.URL.Query().Get("subject_id")
	query.Decision = r.URL.Query().Get("decision")

	if query.Limit, err = parseIntParam(r, "limit", 50); err != nil {
		return query, err
	}
	if query.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		return query, err
	}
	return query, nil
}

type auditEventsListResponse struct {
	Items  []audit.ExportRecord `json:"items"`
	Count  int                  `json:"count"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	query, err := s.auditQueryFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	events, total, err := s.store.ListAuditEvents(r.Context(), s.store.DB(), query)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, auditEventsListResponse{
		Items:  audit.ToExportRecords(events),
		Count:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// exportEvents loads events for the export endpoints. Exports honor the
// same filters as the list endpoint but not its pagination: the only
// bound is the configured row cap, applied from the start of the window.
func (s *Server) exportEvents(r *http.Request) ([]model.AuditEvent, error) {
	query, err := s.auditQueryFromRequest(r)
	if err != nil {
		return nil, err
	}
	query.Limit = s.cfg.exportMaxRows
	query.Offset = 0
	events, _, err := s.store.ListAuditEvents(r.Context(), s.store.DB(), query)
	return events, err
}

func (s *Server) handleExportAuditJSON(w http.ResponseWriter, r *http.Request) {
	events, err := s.exportEvents(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audit.ToExportRecords(events))
}

func (s *Server) handleExportAuditCSV(w http.ResponseWriter, r *http.Request) {
	events, err := s.exportEvents(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	csvText, err := audit.BuildCSV(events)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csvText))
}

func (s *Server) handleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	result, err := s.chain.CheckIntegrity(r.Context(), s.store.DB(), workspaceID(r), from, to)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.AuditIntegrityTotal.WithLabelValues(result.Status).Inc()
	if result.Status == audit.StatusBroken {
		s.alerts.Dispatch(alert.AlertEvent{
			Type:            alert.EventChainBroken,
			Timestamp:       model.FormatTime(time.Now().UTC()),
			WorkspaceID:     result.WorkspaceID,
			BrokenAtEventID: result.BrokenAtEventID,
			CheckedCount:    result.CheckedCount,
			Message:         result.Message,
		})
	}
	writeJSON(w, http.StatusOK, result)
}
