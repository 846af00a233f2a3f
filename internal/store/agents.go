package store

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/canonical"
	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// Fingerprint computes the stable fingerprint of a base64-encoded
// Ed25519 public key: "sha256:<hex>" over the decoded 32 key bytes.
func Fingerprint(publicKeyB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", model.NewError(model.KindValidation, "VALIDATION_ERROR", "public_key must be valid base64")
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", model.NewError(model.KindValidation, "VALIDATION_ERROR", "public_key must decode to 32 bytes for Ed25519")
	}
	sum := sha256.Sum256(raw)
	return canonical.HashPrefix + hex.EncodeToString(sum[:]), nil
}

// CreateAgent registers an agent with status active. The key fingerprint
// must be unique within the workspace.
func (s *Store) CreateAgent(ctx context.Context, q DBTX, a *model.Agent) error {
	fp, err := Fingerprint(a.PublicKey)
	if err != nil {
		return err
	}
	a.ID = uuid.NewString()
	a.Status = model.AgentStatusActive
	a.KeyAlg = "ed25519"
	a.Fingerprint = fp
	a.CreatedAt = time.Now().UTC()

	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO agents (id, workspace_id, name, status, public_key, key_alg,
			fingerprint, runtime_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Name, a.Status, a.PublicKey, a.KeyAlg,
		a.Fingerprint, a.RuntimeType, meta, model.FormatTime(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return model.NewError(model.KindConflict, "AGENT_FINGERPRINT_ALREADY_EXISTS", "agent fingerprint already exists")
	}
	if err != nil {
		return fmt.Errorf("store: insert agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent scoped to a workspace.
func (s *Store) GetAgent(ctx context.Context, q DBTX, workspaceID, agentID string) (*model.Agent, error) {
	var a model.Agent
	var createdAt, metadata string
	var revokedAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, public_key, key_alg, fingerprint,
			runtime_type, metadata, created_at, revoked_at, revoke_reason
		FROM agents WHERE id = ? AND workspace_id = ?`,
		agentID, workspaceID,
	).Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Status, &a.PublicKey, &a.KeyAlg,
		&a.Fingerprint, &a.RuntimeType, &metadata, &createdAt, &revokedAt, &a.RevokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, string(model.ReasonAgentNotFound), "agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: select agent: %w", err)
	}
	if a.Metadata, err = unmarshalJSON(metadata); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = model.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse agent created_at: %w", err)
	}
	if revokedAt.Valid {
		t, err := model.ParseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse agent revoked_at: %w", err)
		}
		a.RevokedAt = &t
	}
	return &a, nil
}

// RevokeAgent marks an agent revoked. Double revoke is a conflict.
func (s *Store) RevokeAgent(ctx context.Context, q DBTX, workspaceID, agentID, reason string) (*model.Agent, error) {
	a, err := s.GetAgent(ctx, q, workspaceID, agentID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AgentStatusRevoked {
		return nil, model.NewError(model.KindConflict, "AGENT_ALREADY_REVOKED", "agent already revoked")
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		UPDATE agents SET status = ?, revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND workspace_id = ?`,
		model.AgentStatusRevoked, model.FormatTime(now), reason, agentID, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: revoke agent: %w", err)
	}
	a.Status = model.AgentStatusRevoked
	a.RevokedAt = &now
	a.RevokeReason = reason
	return a, nil
}

// BindPolicy atomically deactivates the agent's active bindings and
// inserts a new active binding. Callers run it inside a transaction
// under the workspace's serialization lock so no agent ever shows two
// simultaneously active bindings.
func (s *Store) BindPolicy(ctx context.Context, q DBTX, workspaceID, agentID, policyID string) (*model.AgentPolicyBinding, error) {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE agent_policy_bindings SET status = ?, unbound_at = ?
		WHERE agent_id = ? AND status = ?`,
		model.BindingStatusInactive, model.FormatTime(now), agentID, model.BindingStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("store: deactivate bindings: %w", err)
	}

	b := &model.AgentPolicyBinding{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		PolicyID:    policyID,
		Status:      model.BindingStatusActive,
		BoundAt:     now,
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO agent_policy_bindings (id, workspace_id, agent_id, policy_id, status, bound_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkspaceID, b.AgentID, b.PolicyID, b.Status, model.FormatTime(b.BoundAt),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert binding: %w", err)
	}
	return b, nil
}

// ActiveBinding returns the agent's single active policy binding, or a
// POLICY_NOT_BOUND error when none exists.
func (s *Store) ActiveBinding(ctx context.Context, q DBTX, workspaceID, agentID string) (*model.AgentPolicyBinding, error) {
	var b model.AgentPolicyBinding
	var boundAt string
	var unboundAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, agent_id, policy_id, status, bound_at, unbound_at
		FROM agent_policy_bindings
		WHERE workspace_id = ? AND agent_id = ? AND status = ?`,
		workspaceID, agentID, model.BindingStatusActive,
	).Scan(&b.ID, &b.WorkspaceID, &b.AgentID, &b.PolicyID, &b.Status, &boundAt, &unboundAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, string(model.ReasonPolicyNotBound), "no active policy binding for agent")
	}
	if err != nil {
		return nil, fmt.Errorf("store: select binding: %w", err)
	}
	if b.BoundAt, err = model.ParseTime(boundAt); err != nil {
		return nil, fmt.Errorf("store: parse binding bound_at: %w", err)
	}
	return &b, nil
}

// ListBindings returns the agent's full binding history, newest first.
func (s *Store) ListBindings(ctx context.Context, q DBTX, workspaceID, agentID string) ([]model.AgentPolicyBinding, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, workspace_id, agent_id, policy_id, status, bound_at, unbound_at
		FROM agent_policy_bindings
		WHERE workspace_id = ? AND agent_id = ?
		ORDER BY bound_at DESC, id DESC`,
		workspaceID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list bindings: %w", err)
	}
	defer rows.Close()

	var out []model.AgentPolicyBinding
	for rows.Next() {
		var b model.AgentPolicyBinding
		var boundAt string
		var unboundAt sql.NullString
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.AgentID, &b.PolicyID, &b.Status, &boundAt, &unboundAt); err != nil {
			return nil, fmt.Errorf("store: scan binding: %w", err)
		}
		if b.BoundAt, err = model.ParseTime(boundAt); err != nil {
			return nil, fmt.Errorf("store: parse binding bound_at: %w", err)
		}
		if unboundAt.Valid {
			t, err := model.ParseTime(unboundAt.String)
			if err != nil {
				return nil, fmt.Errorf("store: parse binding unbound_at: %w", err)
			}
			b.UnboundAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
