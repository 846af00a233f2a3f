package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

type workspaceCreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type workspaceResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func workspaceView(ws *model.Workspace) workspaceResponse {
	return workspaceResponse{
		ID:        ws.ID,
		Name:      ws.Name,
		Slug:      ws.Slug,
		Status:    ws.Status,
		CreatedAt: model.FormatTime(ws.CreatedAt),
	}
}

// handleCreateWorkspace bootstraps a tenant. Guarded by a shared token
// rather than workspace context, since no workspace exists yet.
func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	if s.cfg.bootstrapToken == "" {
		writeErrorCode(w, http.StatusServiceUnavailable, "WORKSPACE_BOOTSTRAP_DISABLED", "workspace bootstrap is disabled; configure bootstrap_token")
		return
	}
	supplied := r.Header.Get("X-Bootstrap-Token")
	if supplied == "" {
		writeErrorCode(w, http.StatusUnauthorized, "AUTH_BOOTSTRAP_MISSING", "Missing X-Bootstrap-Token header")
		return
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.bootstrapToken)) != 1 {
		writeErrorCode(w, http.StatusUnauthorized, "AUTH_BOOTSTRAP_INVALID", "Invalid X-Bootstrap-Token header")
		return
	}

	var req workspaceCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var ws *model.Workspace
	err := s.store.InTx(r.Context(), func(q store.DBTX) error {
		var err error
		ws, err = s.store.CreateWorkspace(r.Context(), q, req.Name, req.Slug)
		if err != nil {
			return err
		}
		_, err = s.chain.Append(r.Context(), q, audit.Entry{
			WorkspaceID: ws.ID,
			EventType:   model.EventWorkspaceCreated,
			SubjectType: "workspace",
			SubjectID:   ws.ID,
			EventData: map[string]any{
				"workspace_id": ws.ID,
				"name":         ws.Name,
				"slug":         ws.Slug,
			},
		})
		return err
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, workspaceView(ws))
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")
	if err := ensureWorkspaceMatch(workspaceID(r), wsID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	ws, err := s.store.GetWorkspace(r.Context(), s.store.DB(), wsID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, workspaceView(ws))
}
