package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// CreatePolicy inserts an immutable policy version. (workspace, name,
// version) must be unique.
func (s *Store) CreatePolicy(ctx context.Context, q DBTX, p *model.Policy) error {
	if p.Name == "" {
		return model.NewError(model.KindValidation, "VALIDATION_ERROR", "policy name must not be empty")
	}
	if p.Version < 1 {
		return model.NewError(model.KindValidation, "VALIDATION_ERROR", "policy version must be >= 1")
	}
	p.ID = uuid.NewString()
	p.IsActive = true
	if p.SchemaVersion == 0 {
		p.SchemaVersion = 1
	}
	p.CreatedAt = time.Now().UTC()

	doc, err := marshalJSON(p.Document)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO policies (id, workspace_id, name, version, is_active, schema_version, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, p.Version, boolToInt(p.IsActive),
		p.SchemaVersion, doc, model.FormatTime(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return model.NewError(model.KindConflict, "POLICY_VERSION_ALREADY_EXISTS", "policy name and version already exist")
	}
	if err != nil {
		return fmt.Errorf("store: insert policy: %w", err)
	}
	return nil
}

// GetPolicy fetches a policy scoped to a workspace.
func (s *Store) GetPolicy(ctx context.Context, q DBTX, workspaceID, policyID string) (*model.Policy, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, version, is_active, schema_version, document, created_at
		FROM policies WHERE id = ? AND workspace_id = ?`,
		policyID, workspaceID,
	)
	return scanPolicy(row)
}

// ActivePolicyForAgent resolves the agent's bound, administratively
// active policy. Missing binding or inactive policy both surface as
// POLICY_NOT_BOUND, matching the issuance precondition.
func (s *Store) ActivePolicyForAgent(ctx context.Context, q DBTX, workspaceID, agentID string) (*model.Policy, error) {
	binding, err := s.ActiveBinding(ctx, q, workspaceID, agentID)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, version, is_active, schema_version, document, created_at
		FROM policies WHERE id = ? AND workspace_id = ? AND is_active = 1`,
		binding.PolicyID, workspaceID,
	)
	p, err := scanPolicy(row)
	if model.KindOf(err) == model.KindNotFound {
		return nil, model.NewError(model.KindNotFound, string(model.ReasonPolicyNotBound), "no active policy found for binding")
	}
	return p, err
}

func scanPolicy(row *sql.Row) (*model.Policy, error) {
	var p model.Policy
	var isActive int
	var doc, createdAt string
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Version, &isActive,
		&p.SchemaVersion, &doc, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "POLICY_NOT_FOUND", "policy not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: select policy: %w", err)
	}
	p.IsActive = isActive != 0
	if p.Document, err = unmarshalJSON(doc); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = model.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse policy created_at: %w", err)
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
