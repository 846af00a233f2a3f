package policy

import (
	"context"

	"github.com/kevinmarty69/know-your-agent/internal/ratelimit"
)

// Engine evaluates policy documents. It holds no per-request state; the
// rate counter is the only collaborator.
type Engine struct {
	counter ratelimit.Counter
}

// NewEngine creates an Engine backed by the given rate counter.
func NewEngine(counter ratelimit.Counter) *Engine {
	return &Engine{counter: counter}
}

// ScopeAllowed reports whether every requested scope is listed in the
// document's allowed tools. Exact string match only; no wildcards.
func (e *Engine) ScopeAllowed(doc *Document, requested []string) bool {
	allowed := make(map[string]bool, len(doc.AllowedTools))
	for _, t := range doc.AllowedTools {
		allowed[t] = true
	}
	for _, s := range requested {
		if !allowed[s] {
			return false
		}
	}
	return true
}

// ActionAllowed reports whether a single action type is within the
// granted scope set. Used on the verification path where the scope is
// derived from the action.
func ActionAllowed(scopes []string, actionType string) bool {
	for _, s := range scopes {
		if s == actionType {
			return true
		}
	}
	return false
}

// SpendAllowed checks a requested amount against the document's
// per-transaction maximum. No spend rule, or no amount in the request,
// passes unconditionally. Non-parseable amounts fail closed.
func (e *Engine) SpendAllowed(doc *Document, amount any) bool {
	if doc.MaxPerTx == nil || amount == nil {
		return true
	}
	value, ok := ParseAmount(amount)
	if !ok {
		return false
	}
	return value <= *doc.MaxPerTx
}

// RateAllowed asks the counter whether another action fits within the
// document's per-minute bound. No rate rule passes unconditionally.
// Counter failure fails closed.
func (e *Engine) RateAllowed(ctx context.Context, doc *Document, workspaceID, agentID, actionType string) bool {
	if doc.MaxPerMinute == nil {
		return true
	}
	ok, err := e.counter.Allow(ctx, workspaceID, agentID, actionType, *doc.MaxPerMinute)
	if err != nil {
		return false
	}
	return ok
}
