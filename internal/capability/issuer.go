package capability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/policy"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

// TTLBounds clamps requested capability lifetimes. All values are in
// minutes; a zero request falls back to Default before clamping.
type TTLBounds struct {
	Default int
	Min     int
	Max     int
}

// DefaultTTLBounds matches the shipped configuration.
var DefaultTTLBounds = TTLBounds{Default: 15, Min: 5, Max: 30}

// Clamp resolves the effective TTL for a requested value.
func (b TTLBounds) Clamp(requested int) int {
	ttl := requested
	if ttl == 0 {
		ttl = b.Default
	}
	if ttl < b.Min {
		ttl = b.Min
	}
	if ttl > b.Max {
		ttl = b.Max
	}
	return ttl
}

// IssueRequest describes one capability mint attempt.
type IssueRequest struct {
	WorkspaceID     string
	AgentID         string
	Action          string
	TargetService   string
	RequestedScopes []string
	RequestedLimits map[string]any
	TTLMinutes      int // 0 means use the configured default
}

// IssueResult is returned on successful issuance. Token is the signed
// JWT; the raw token is never persisted.
type IssueResult struct {
	CapabilityID string
	Token        string
	JTI          string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Issuer mints capabilities after checking agent, binding and policy
// state. The capability row and its audit event commit in one
// transaction; a failed audit append fails the whole issuance.
type Issuer struct {
	store  *store.Store
	chain  *audit.Chain
	engine *policy.Engine
	keys   *SigningKeys
	ttl    TTLBounds

	now func() time.Time
}

// NewIssuer wires an issuer. ttl with all-zero fields falls back to
// DefaultTTLBounds.
func NewIssuer(s *store.Store, chain *audit.Chain, engine *policy.Engine, keys *SigningKeys, ttl TTLBounds) *Issuer {
	if ttl == (TTLBounds{}) {
		ttl = DefaultTTLBounds
	}
	return &Issuer{store: s, chain: chain, engine: engine, keys: keys, ttl: ttl, now: time.Now}
}

// Issue runs the precondition chain in order, first failure wins:
// agent exists, agent active, active binding, active policy, scopes
// allowed, spend allowed. Rate limits are checked only at verify time.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	var result *IssueResult
	err := i.chain.Locked(req.WorkspaceID, func() error {
		return i.store.InTx(ctx, func(q store.DBTX) error {
			agent, err := i.store.GetAgent(ctx, q, req.WorkspaceID, req.AgentID)
			if err != nil {
				return err
			}
			if agent.Status != model.AgentStatusActive {
				return model.NewError(model.KindConflict, string(model.ReasonAgentRevoked), "agent is revoked")
			}

			pol, err := i.store.ActivePolicyForAgent(ctx, q, req.WorkspaceID, req.AgentID)
			if err != nil {
				return err
			}
			doc, err := policy.ParseDocument(pol.Document)
			if err != nil {
				return err
			}
			if !i.engine.ScopeAllowed(doc, req.RequestedScopes) {
				return model.NewError(model.KindValidation, string(model.ReasonCapabilityScopeMismatch), "requested scopes are not allowed")
			}
			if !i.engine.SpendAllowed(doc, requestedAmount(req.RequestedLimits)) {
				return model.NewError(model.KindValidation, string(model.ReasonSpendLimitExceeded), "requested limits exceed policy")
			}

			ttlMinutes := i.ttl.Clamp(req.TTLMinutes)
			issuedAt := i.now().UTC()
			expiresAt := issuedAt.Add(time.Duration(ttlMinutes) * time.Minute)
			jti := uuid.NewString()

			cap := &model.Capability{
				ID:          uuid.NewString(),
				WorkspaceID: req.WorkspaceID,
				AgentID:     req.AgentID,
				JTI:         jti,
				Scopes:      req.RequestedScopes,
				Limits:      req.RequestedLimits,
				Status:      model.CapabilityStatusActive,
				IssuedAt:    issuedAt,
				ExpiresAt:   expiresAt,
			}
			if err := i.store.InsertCapability(ctx, q, cap); err != nil {
				return err
			}

			token, err := EncodeToken(i.keys, Claims{
				Subject:       req.AgentID,
				WorkspaceID:   req.WorkspaceID,
				Scopes:        req.RequestedScopes,
				Limits:        req.RequestedLimits,
				PolicyID:      pol.ID,
				PolicyVersion: pol.Version,
				IssuedAt:      issuedAt.Unix(),
				ExpiresAt:     expiresAt.Unix(),
				TokenID:       jti,
			})
			if err != nil {
				return err
			}

			if _, err := i.chain.AppendLocked(ctx, q, audit.Entry{
				WorkspaceID: req.WorkspaceID,
				EventType:   model.EventCapabilityIssued,
				SubjectType: "capability",
				SubjectID:   cap.ID,
				EventData: map[string]any{
					"workspace_id":   req.WorkspaceID,
					"agent_id":       req.AgentID,
					"action":         req.Action,
					"target_service": req.TargetService,
					"jti":            jti,
					"exp":            expiresAt.Unix(),
				},
			}); err != nil {
				return err
			}

			result = &IssueResult{
				CapabilityID: cap.ID,
				Token:        token,
				JTI:          jti,
				IssuedAt:     issuedAt,
				ExpiresAt:    expiresAt,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// requestedAmount pulls the spend amount out of requested limits; a
// missing amount means the request asks for no spend authority.
func requestedAmount(limits map[string]any) any {
	if limits == nil {
		return nil
	}
	return limits["amount"]
}
