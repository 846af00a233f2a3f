package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kevinmarty69/know-your-agent/internal/alert"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/verify"
)

type verifyRequest struct {
	WorkspaceID     string         `json:"workspace_id"`
	AgentID         string         `json:"agent_id"`
	ActionType      string         `json:"action_type"`
	TargetService   string         `json:"target_service"`
	Payload         map[string]any `json:"payload"`
	Signature       string         `json:"signature"`
	CapabilityToken string         `json:"capability_token"`
	RequestContext  map[string]any `json:"request_context"`
}

type verifyResponse struct {
	Decision     string  `json:"decision"`
	ReasonCode   *string `json:"reason_code"`
	AuditEventID string  `json:"audit_event_id"`
}

// handleVerify never returns an error status for a denial; DENY is a
// normal 200 response with a reason code.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := ensureWorkspaceMatch(workspaceID(r), req.WorkspaceID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	start := time.Now()
	decision, err := s.currentPipeline().Verify(r.Context(), verify.Request{
		WorkspaceID:     req.WorkspaceID,
		AgentID:         req.AgentID,
		ActionType:      req.ActionType,
		TargetService:   req.TargetService,
		Payload:         req.Payload,
		Signature:       req.Signature,
		CapabilityToken: req.CapabilityToken,
		RequestContext:  req.RequestContext,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.ObserveVerify(decision.Decision, string(decision.ReasonCode), time.Since(start).Seconds())

	resp := verifyResponse{
		Decision:     decision.Decision,
		AuditEventID: decision.AuditEventID,
	}
	if decision.ReasonCode != "" {
		rc := string(decision.ReasonCode)
		resp.ReasonCode = &rc
	}
	if decision.Decision == model.DecisionDeny {
		// payload contents never hit the log
		s.logger.Info("verify denied",
			zap.String("workspace_id", req.WorkspaceID),
			zap.String("agent_id", req.AgentID),
			zap.String("reason_code", string(decision.ReasonCode)),
		)
		s.alerts.Dispatch(alert.AlertEvent{
			Type:        alert.EventDeny,
			Timestamp:   model.FormatTime(time.Now().UTC()),
			WorkspaceID: req.WorkspaceID,
			AgentID:     req.AgentID,
			ActionType:  req.ActionType,
			ReasonCode:  string(decision.ReasonCode),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
