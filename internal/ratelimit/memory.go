package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCounter keeps per-key hit timestamps and counts those in the
// trailing minute, so old hits expire individually rather than all at
// once. Suitable for a single-node deployment; multi-node deployments
// share state through RedisCounter instead.
type MemoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow implements Counter. Hits older than one minute are pruned
// before the bound check; prune, check and record happen under one
// lock so concurrent callers cannot both take the last slot.
func (m *MemoryCounter) Allow(_ context.Context, workspaceID, agentID, actionType string, maxPerMinute int) (bool, error) {
	if maxPerMinute <= 0 {
		return false, nil
	}
	key := fmt.Sprintf("%s:%s:%s", workspaceID, agentID, actionType)
	now := m.now()
	cutoff := now.Add(-time.Minute)

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := m.hits[key]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	if len(kept) >= maxPerMinute {
		m.hits[key] = kept
		return false, nil
	}
	m.hits[key] = append(kept, now)
	return true, nil
}
