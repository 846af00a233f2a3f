package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// InsertCapability persists a freshly minted capability record.
func (s *Store) InsertCapability(ctx context.Context, q DBTX, c *model.Capability) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("store: encode scopes: %w", err)
	}
	limits, err := marshalJSON(c.Limits)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO capabilities (id, workspace_id, agent_id, jti, scopes, limits, status, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.AgentID, c.JTI, string(scopes), limits,
		c.Status, model.FormatTime(c.IssuedAt), model.FormatTime(c.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return model.NewError(model.KindConflict, "CAPABILITY_JTI_ALREADY_EXISTS", "capability jti already exists")
	}
	if err != nil {
		return fmt.Errorf("store: insert capability: %w", err)
	}
	return nil
}

// CapabilityByJTI looks up the backing record for a token's jti within
// a workspace.
func (s *Store) CapabilityByJTI(ctx context.Context, q DBTX, workspaceID, jti string) (*model.Capability, error) {
	var c model.Capability
	var scopes, limits, issuedAt, expiresAt string
	var revokedAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, agent_id, jti, scopes, limits, status,
			issued_at, expires_at, revoked_at, revoke_reason
		FROM capabilities WHERE workspace_id = ? AND jti = ?`,
		workspaceID, jti,
	).Scan(&c.ID, &c.WorkspaceID, &c.AgentID, &c.JTI, &scopes, &limits, &c.Status,
		&issuedAt, &expiresAt, &revokedAt, &c.RevokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, string(model.ReasonCapabilityInvalid), "capability not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: select capability: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(scopes))
	if err := dec.Decode(&c.Scopes); err != nil {
		return nil, fmt.Errorf("store: decode scopes: %w", err)
	}
	if c.Limits, err = unmarshalJSON(limits); err != nil {
		return nil, err
	}
	if c.IssuedAt, err = model.ParseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("store: parse capability issued_at: %w", err)
	}
	if c.ExpiresAt, err = model.ParseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("store: parse capability expires_at: %w", err)
	}
	if revokedAt.Valid {
		t, err := model.ParseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse capability revoked_at: %w", err)
		}
		c.RevokedAt = &t
	}
	return &c, nil
}

// RevokeCapability marks a capability revoked. Double revoke is a
// conflict.
func (s *Store) RevokeCapability(ctx context.Context, q DBTX, workspaceID, jti, reason string) (*model.Capability, error) {
	c, err := s.CapabilityByJTI(ctx, q, workspaceID, jti)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CapabilityStatusRevoked {
		return nil, model.NewError(model.KindConflict, "CAPABILITY_ALREADY_REVOKED", "capability already revoked")
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		UPDATE capabilities SET status = ?, revoked_at = ?, revoke_reason = ?
		WHERE workspace_id = ? AND jti = ?`,
		model.CapabilityStatusRevoked, model.FormatTime(now), reason, workspaceID, jti,
	)
	if err != nil {
		return nil, fmt.Errorf("store: revoke capability: %w", err)
	}
	c.Status = model.CapabilityStatusRevoked
	c.RevokedAt = &now
	c.RevokeReason = reason
	return c, nil
}
