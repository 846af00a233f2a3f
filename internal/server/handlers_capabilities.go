package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/capability"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

type capabilityRequest struct {
	WorkspaceID     string         `json:"workspace_id"`
	AgentID         string         `json:"agent_id"`
	Action          string         `json:"action"`
	TargetService   string         `json:"target_service"`
	RequestedScopes []string       `json:"requested_scopes"`
	RequestedLimits map[string]any `json:"requested_limits"`
	TTLMinutes      int            `json:"ttl_minutes"`
}

type capabilityIssueResponse struct {
	CapabilityID string `json:"capability_id"`
	Token        string `json:"token"`
	JTI          string `json:"jti"`
	IssuedAt     string `json:"issued_at"`
	ExpiresAt    string `json:"expires_at"`
}

func (s *Server) handleRequestCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Action == "" || req.TargetService == "" {
		writeError(w, s.logger, model.NewError(model.KindValidation, "VALIDATION_ERROR", "action and target_service are required"))
		return
	}

	result, err := s.currentIssuer().Issue(r.Context(), capability.IssueRequest{
		WorkspaceID:     req.WorkspaceID,
		AgentID:         req.AgentID,
		Action:          req.Action,
		TargetService:   req.TargetService,
		RequestedScopes: req.RequestedScopes,
		RequestedLimits: req.RequestedLimits,
		TTLMinutes:      req.TTLMinutes,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.CapabilitiesIssuedTotal.Inc()
	writeJSON(w, http.StatusCreated, capabilityIssueResponse{
		CapabilityID: result.CapabilityID,
		Token:        result.Token,
		JTI:          result.JTI,
		IssuedAt:     model.FormatTime(result.IssuedAt),
		ExpiresAt:    model.FormatTime(result.ExpiresAt),
	})
}

type capabilityRevokeRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Reason      string `json:"reason"`
}

type capabilityRevokeResponse struct {
	JTI       string `json:"jti"`
	Status    string `json:"status"`
	RevokedAt string `json:"revoked_at"`
}

func (s *Server) handleRevokeCapability(w http.ResponseWriter, r *http.Request) {
	jti := chi.URLParam(r, "jti")
	var req capabilityRevokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var cap *model.Capability
	err := s.chain.Locked(req.WorkspaceID, func() error {
		return s.store.InTx(r.Context(), func(q store.DBTX) error {
			var err error
			cap, err = s.store.RevokeCapability(r.Context(), q, req.WorkspaceID, jti, req.Reason)
			if err != nil {
				return err
			}
			_, err = s.chain.AppendLocked(r.Context(), q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventCapabilityRevoked,
				SubjectType: "capability",
				SubjectID:   cap.ID,
				EventData: map[string]any{
					"workspace_id": req.WorkspaceID,
					"jti":          jti,
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
	writeJSON(w, http.StatusOK, capabilityRevokeResponse{
		JTI:       cap.JTI,
		Status:    cap.Status,
		RevokedAt: model.FormatTime(*cap.RevokedAt),
	})
}
