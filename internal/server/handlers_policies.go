package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/policy"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

type policyCreateRequest struct {
	WorkspaceID   string         `json:"workspace_id"`
	Name          string         `json:"name"`
	Version       int            `json:"version"`
	SchemaVersion int            `json:"schema_version"`
	PolicyJSON    map[string]any `json:"policy_json"`
}

type policyResponse struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspace_id"`
	Name          string         `json:"name"`
	Version       int            `json:"version"`
	IsActive      bool           `json:"is_active"`
	SchemaVersion int            `json:"schema_version"`
	PolicyJSON    map[string]any `json:"policy_json"`
	CreatedAt     string         `json:"created_at"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Name == "" || req.Version < 1 {
		writeError(w, s.logger, model.NewError(model.KindValidation, "VALIDATION_ERROR", "policy name and version >= 1 are required"))
		return
	}
	// Reject documents the engine cannot evaluate before they are stored.
	if _, err := policy.ParseDocument(req.PolicyJSON); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.SchemaVersion == 0 {
		req.SchemaVersion = 1
	}

	pol := &model.Policy{
		WorkspaceID:   req.WorkspaceID,
		Name:          req.Name,
		Version:       req.Version,
		IsActive:      true,
		SchemaVersion: req.SchemaVersion,
		Document:      req.PolicyJSON,
	}
	err := s.chain.Locked(req.WorkspaceID, func() error {
		return s.store.InTx(r.Context(), func(q store.DBTX) error {
			if _, err := s.store.GetWorkspace(r.Context(), q, req.WorkspaceID); err != nil {
				return err
			}
			if err := s.store.CreatePolicy(r.Context(), q, pol); err != nil {
				return err
			}
			_, err := s.chain.AppendLocked(r.Context(), q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventPolicyCreated,
				SubjectType: "policy",
				SubjectID:   pol.ID,
				EventData: map[string]any{
					"workspace_id": req.WorkspaceID,
					"name":         req.Name,
					"version":      req.Version,
				},
			})
			return err
		})
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyView(pol))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := s.store.GetPolicy(r.Context(), s.store.DB(), workspaceID(r), chi.URLParam(r, "policyID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policyView(pol))
}

func policyView(pol *model.Policy) policyResponse {
	return policyResponse{
		ID:            pol.ID,
		WorkspaceID:   pol.WorkspaceID,
		Name:          pol.Name,
		Version:       pol.Version,
		IsActive:      pol.IsActive,
		SchemaVersion: pol.SchemaVersion,
		PolicyJSON:    pol.Document,
		CreatedAt:     model.FormatTime(pol.CreatedAt),
	}
}
