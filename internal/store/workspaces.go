package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

var nonSlugRunes = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a workspace name. Empty output
// means the name carried no usable characters and the caller must
// supply an explicit slug.
func Slugify(name string) string {
	slug := nonSlugRunes.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// CreateWorkspace inserts a workspace with a fresh id. An empty slug is
// derived from the name.
func (s *Store) CreateWorkspace(ctx context.Context, q DBTX, name, slug string) (*model.Workspace, error) {
	if name == "" {
		return nil, model.NewError(model.KindValidation, "VALIDATION_ERROR", "workspace name must not be empty")
	}
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return nil, model.NewError(model.KindValidation, "WORKSPACE_SLUG_INVALID", "unable to derive slug from name; provide an explicit slug")
	}
	ws := &model.Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Slug, ws.Status, model.FormatTime(ws.CreatedAt),
	)
	if isUniqueViolation(err) {
		return nil, model.NewError(model.KindConflict, "WORKSPACE_SLUG_ALREADY_EXISTS", "workspace slug already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("store: insert workspace: %w", err)
	}
	return ws, nil
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, q DBTX, id string) (*model.Workspace, error) {
	var ws model.Workspace
	var createdAt string
	err := q.QueryRowContext(ctx,
		`SELECT id, name, slug, status, created_at FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "WORKSPACE_NOT_FOUND", "workspace not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: select workspace: %w", err)
	}
	ws.CreatedAt, err = model.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse workspace created_at: %w", err)
	}
	return &ws, nil
}
