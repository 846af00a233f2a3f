// Package ratelimit counts actions over a trailing one-minute window,
// keyed by (workspace, agent, action type). Keys are independent;
// increments are atomic with respect to concurrent callers.
package ratelimit

import "context"

// Counter is the external collaborator the policy engine consults for
// rate checks. Allow increments the key's counter and reports whether
// the action fits within maxPerMinute.
type Counter interface {
	Allow(ctx context.Context, workspaceID, agentID, actionType string, maxPerMinute int) (bool, error)
}
