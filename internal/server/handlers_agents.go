package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

type agentCreateRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	PublicKey   string         `json:"public_key"`
	RuntimeType string         `json:"runtime_type"`
	Metadata    map[string]any `json:"metadata"`
}

type agentResponse struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	PublicKey    string         `json:"public_key"`
	KeyAlg       string         `json:"key_alg"`
	Fingerprint  string         `json:"fingerprint"`
	RuntimeType  string         `json:"runtime_type,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"created_at"`
	RevokedAt    *string        `json:"revoked_at"`
	RevokeReason string         `json:"revoke_reason,omitempty"`
}

func agentView(a *model.Agent) agentResponse {
	resp := agentResponse{
		ID:           a.ID,
		WorkspaceID:  a.WorkspaceID,
		Name:         a.Name,
		Status:       a.Status,
		PublicKey:    a.PublicKey,
		KeyAlg:       a.KeyAlg,
		Fingerprint:  a.Fingerprint,
		RuntimeType:  a.RuntimeType,
		Metadata:     a.Metadata,
		CreatedAt:    model.FormatTime(a.CreatedAt),
		RevokeReason: a.RevokeReason,
	}
	if a.RevokedAt != nil {
		t := model.FormatTime(*a.RevokedAt)
		resp.RevokedAt = &t
	}
	return resp
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Name == "" {
		writeError(w, s.logger, model.NewError(model.KindValidation, "VALIDATION_ERROR", "agent name must not be empty"))
		return
	}

	agent := &model.Agent{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		PublicKey:   req.PublicKey,
		RuntimeType: req.RuntimeType,
		Metadata:    req.Metadata,
	}
	err := s.chain.Locked(req.WorkspaceID, func() error {
		return s.store.InTx(r.Context(), func(q store.DBTX) error {
			if _, err := s.store.GetWorkspace(r.Context(), q, req.WorkspaceID); err != nil {
				return err
			}
			if err := s.store.CreateAgent(r.Context(), q, agent); err != nil {
				return err
			}
			_, err := s.chain.AppendLocked(r.Context(), q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventAgentCreated,
				SubjectType: "agent",
				SubjectID:   agent.ID,
				EventData: map[string]any{
					"workspace_id": req.WorkspaceID,
					"name":         req.Name,
				},
			})
			return err
		})
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, agentView(agent))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), s.store.DB(), workspaceID(r), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agentView(agent))
}

type agentRevokeRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Reason      string `json:"reason"`
}

type agentRevokeResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	RevokedAt string `json:"revoked_at"`
}

func (s *Server) handleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req agentRevokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Reason == "" {
		writeError(w, s.logger, model.NewError(model.KindValidation, "VALIDATION_ERROR", "revocation reason must not be empty"))
		return
	}

	var agent *model.Agent
	err := s.chain.Locked(req.WorkspaceID, func() error {
		return s.store.InTx(r.Context(), func(q store.DBTX) error {
			var err error
			agent, err = s.store.RevokeAgent(r.Context(), q, req.WorkspaceID, agentID, req.Reason)
			if err != nil {
				return err
			}
			_, err = s.chain.AppendLocked(r.Context(), q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventAgentRevoked,
				SubjectType: "agent",
				SubjectID:   agent.ID,
				EventData: map[string]any{
					"workspace_id": req.WorkspaceID,
					"reason":       req.Reason,
				},
			})
			return err
		})
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agentRevokeResponse{
		ID:        agent.ID,
		Status:    agent.Status,
		RevokedAt: model.FormatTime(*agent.RevokedAt),
	})
}

type policyBindRequest struct {
	WorkspaceID string `json:"workspace_id"`
	PolicyID    string `json:"policy_id"`
}

type policyBindingResponse struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	AgentID     string  `json:"agent_id"`
	PolicyID    string  `json:"policy_id"`
	Status      string  `json:"status"`
	BoundAt     string  `json:"bound_at"`
	UnboundAt   *string `json:"unbound_at"`
}

func (s *Server) handleBindPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req policyBindRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var binding *model.AgentPolicyBinding
	err := s.chain.Locked(req.WorkspaceID, func() error {
		return s.store.InTx(r.Context(), func(q store.DBTX) error {
			agent, err := s.store.GetAgent(r.Context(), q, req.WorkspaceID, agentID)
			if err != nil {
				return err
			}
			if agent.Status == model.AgentStatusRevoked {
				return model.NewError(model.KindConflict, string(model.ReasonAgentRevoked), "agent is revoked")
			}
			if _, err := s.store.GetPolicy(r.Context(), q, req.WorkspaceID, req.PolicyID); err != nil {
				return err
			}
			binding, err = s.store.BindPolicy(r.Context(), q, req.WorkspaceID, agentID, req.PolicyID)
			if err != nil {
				return err
			}
			_, err = s.chain.AppendLocked(r.Context(), q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventPolicyBound,
				SubjectType: "agent",
				SubjectID:   agentID,
				EventData: map[string]any{
					"workspace_id": req.WorkspaceID,
					"policy_id":    req.PolicyID,
				},
			})
			return err
		})
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyBindingResponse{
		ID:          binding.ID,
		WorkspaceID: binding.WorkspaceID,
		AgentID:     binding.AgentID,
		PolicyID:    binding.PolicyID,
		Status:      binding.Status,
		BoundAt:     model.FormatTime(binding.BoundAt),
	})
}
