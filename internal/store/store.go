// Package store is the sqlite persistence layer for the trust kernel:
// workspaces, agents, policies, bindings, capabilities, and the
// append-only audit event table. All ids are UUID strings and all
// timestamps are fixed-width UTC text so ordering in SQL matches
// ordering in Go.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kevinmarty69/know-your-agent/internal/canonical"
	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store methods accept it so business operations can compose several
// writes into one transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// schema. Use ":memory:" only for single-connection tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the store's connection for non-transactional reads.
func (s *Store) DB() DBTX { return s.db }

// InTx runs fn inside a transaction, committing on nil and rolling back
// on error. Partial side effects never survive a failure.
func (s *Store) InTx(ctx context.Context, fn func(q DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TEXT NOT NULL,
	UNIQUE (slug)
);

CREATE TABLE IF NOT EXISTS agents (
	id            TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	public_key    TEXT NOT NULL,
	key_alg       TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	runtime_type  TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	revoked_at    TEXT,
	revoke_reason TEXT NOT NULL DEFAULT '',
	UNIQUE (workspace_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS policies (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	version        INTEGER NOT NULL,
	is_active      INTEGER NOT NULL DEFAULT 1,
	schema_version INTEGER NOT NULL DEFAULT 1,
	document       TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	UNIQUE (workspace_id, name, version)
);

CREATE TABLE IF NOT EXISTS agent_policy_bindings (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	agent_id     TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	policy_id    TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	status       TEXT NOT NULL,
	bound_at     TEXT NOT NULL,
	unbound_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_bindings_agent_status
	ON agent_policy_bindings(agent_id, status);

CREATE TABLE IF NOT EXISTS capabilities (
	id            TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	agent_id      TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	jti           TEXT NOT NULL UNIQUE,
	scopes        TEXT NOT NULL,
	limits        TEXT NOT NULL,
	status        TEXT NOT NULL,
	issued_at     TEXT NOT NULL,
	expires_at    TEXT NOT NULL,
	revoked_at    TEXT,
	revoke_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_events (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	event_type   TEXT NOT NULL,
	actor_type   TEXT NOT NULL,
	actor_id     TEXT,
	subject_type TEXT NOT NULL,
	subject_id   TEXT,
	event_time   TEXT NOT NULL,
	event_data   TEXT NOT NULL,
	payload_hash TEXT,
	prev_hash    TEXT,
	event_hash   TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ws_time_id
	ON audit_events(workspace_id, event_time, id);
CREATE INDEX IF NOT EXISTS idx_audit_ws_type
	ON audit_events(workspace_id, event_type);
`

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure. The driver surfaces constraint errors by message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalJSON encodes a structured value in canonical form for storage,
// so a value read back and re-hashed produces the exact bytes that were
// hashed at append time.
func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: encode json column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON decodes a stored JSON column preserving numeric wire
// forms (json.Number) for hash reproducibility.
func unmarshalJSON(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("store: decode json column: %w", err)
	}
	return v, nil
}

// nullable converts an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a nil time to SQL NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.FormatTime(*t)
}
