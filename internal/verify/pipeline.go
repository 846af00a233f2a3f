package verify

import (
	"context"
	"time"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/canonical"
	"github.com/kevinmarty69/know-your-agent/internal/capability"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/policy"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

// Request is one inbound verify call. Payload is the action body the
// agent signed; RequestContext is caller-supplied metadata recorded in
// the audit trail but never evaluated.
type Request struct {
	WorkspaceID     string
	AgentID         string
	ActionType      string
	TargetService   string
	Payload         map[string]any
	Signature       string // base64 Ed25519 signature over the envelope digest
	CapabilityToken string
	RequestContext  map[string]any
}

// Pipeline evaluates verify requests. Checks run in a fixed precedence
// order and the first failure determines the deny reason; a denial is a
// normal result, not an error. Every call appends a "requested" event
// before evaluation and exactly one final allowed/denied event after,
// on every exit path short of storage failure.
type Pipeline struct {
	store  *store.Store
	chain  *audit.Chain
	engine *policy.Engine
	keys   *capability.SigningKeys
	leeway time.Duration

	now func() time.Time
}

// NewPipeline wires a pipeline. leeway is applied to capability token
// expiry during decode.
func NewPipeline(s *store.Store, chain *audit.Chain, engine *policy.Engine, keys *capability.SigningKeys, leeway time.Duration) *Pipeline {
	return &Pipeline{store: s, chain: chain, engine: engine, keys: keys, leeway: leeway, now: time.Now}
}

// Verify runs the full pipeline for one request. The returned Decision
// carries the id of the final audit event. An error return means the
// decision could not be recorded; no partial audit trail survives.
func (p *Pipeline) Verify(ctx context.Context, req Request) (*model.Decision, error) {
	payloadHash, err := canonical.Hash(req.Payload)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "INVALID_PAYLOAD", "payload is not canonically encodable", err)
	}

	var decision *model.Decision
	err = p.chain.Locked(req.WorkspaceID, func() error {
		return p.store.InTx(ctx, func(q store.DBTX) error {
			if _, err := p.chain.AppendLocked(ctx, q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventVerificationRequest,
				ActorType:   "agent",
				ActorID:     req.AgentID,
				SubjectType: "action",
				SubjectID:   req.AgentID,
				EventData: map[string]any{
					"agent_id":       req.AgentID,
					"action_type":    req.ActionType,
					"target_service": req.TargetService,
				},
				PayloadHash: payloadHash,
			}); err != nil {
				return err
			}

			reason, err := p.evaluate(ctx, q, req)
			if err != nil {
				return err
			}

			eventType := model.EventVerificationAllowed
			outcome := model.DecisionAllow
			eventData := map[string]any{
				"agent_id":       req.AgentID,
				"action_type":    req.ActionType,
				"target_service": req.TargetService,
				"decision":       model.DecisionAllow,
			}
			if reason != "" {
				eventType = model.EventVerificationDenied
				outcome = model.DecisionDeny
				eventData["decision"] = model.DecisionDeny
				eventData["reason_code"] = string(reason)
			}

			final, err := p.chain.AppendLocked(ctx, q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   eventType,
				ActorType:   "agent",
				ActorID:     req.AgentID,
				SubjectType: "action",
				SubjectID:   req.AgentID,
				EventData:   eventData,
				PayloadHash: payloadHash,
			})
			if err != nil {
				return err
			}

			decision = &model.Decision{
				Decision:     outcome,
				ReasonCode:   reason,
				AuditEventID: final.ID,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// evaluate applies the precedence chain and returns the deny reason, or
// "" for allow. Only infrastructure failures come back as errors.
func (p *Pipeline) evaluate(ctx context.Context, q store.DBTX, req Request) (model.ReasonCode, error) {
	agent, err := p.store.GetAgent(ctx, q, req.WorkspaceID, req.AgentID)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return model.ReasonAgentNotFound, nil
		}
		return "", err
	}
	if agent.Status != model.AgentStatusActive {
		return model.ReasonAgentRevoked, nil
	}

	claims, err := capability.DecodeToken(p.keys, req.CapabilityToken, p.leeway)
	if err != nil {
		if code := model.CodeOf(err); model.IsValidReasonCode(code) {
			return model.ReasonCode(code), nil
		}
		return model.ReasonCapabilityInvalid, nil
	}
	if claims.WorkspaceID != req.WorkspaceID {
		return model.ReasonWorkspaceMismatch, nil
	}
	if claims.Subject != req.AgentID {
		return model.ReasonCapabilityInvalid, nil
	}

	cap, err := p.store.CapabilityByJTI(ctx, q, req.WorkspaceID, claims.TokenID)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return model.ReasonCapabilityInvalid, nil
		}
		return "", err
	}
	if cap.AgentID != req.AgentID {
		return model.ReasonCapabilityInvalid, nil
	}
	if cap.Status != model.CapabilityStatusActive {
		return model.ReasonCapabilityRevoked, nil
	}
	if !p.now().UTC().Before(cap.ExpiresAt) {
		return model.ReasonCapabilityExpired, nil
	}

	env := Envelope{
		AgentID:       req.AgentID,
		WorkspaceID:   req.WorkspaceID,
		ActionType:    req.ActionType,
		TargetService: req.TargetService,
		Payload:       req.Payload,
		CapabilityJTI: claims.TokenID,
	}
	if !VerifySignature(agent.PublicKey, env, req.Signature) {
		return model.ReasonSignatureInvalid, nil
	}

	pol, err := p.store.ActivePolicyForAgent(ctx, q, req.WorkspaceID, req.AgentID)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return model.ReasonPolicyNotBound, nil
		}
		return "", err
	}
	doc, err := policy.ParseDocument(pol.Document)
	if err != nil {
		return "", err
	}

	if !policy.ActionAllowed(cap.Scopes, req.ActionType) || !policy.ActionAllowed(doc.AllowedTools, req.ActionType) {
		return model.ReasonCapabilityScopeMismatch, nil
	}
	if !p.engine.SpendAllowed(doc, req.Payload["amount"]) {
		return model.ReasonSpendLimitExceeded, nil
	}
	if !p.engine.RateAllowed(ctx, doc, req.WorkspaceID, req.AgentID, req.ActionType) {
		return model.ReasonRateLimitExceeded, nil
	}
	return "", nil
}
