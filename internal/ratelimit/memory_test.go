package ratelimit

import (
	"context"
	"testing"
	"time"
)

// --- Memory counter tests ---

func TestMemoryCounterWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := NewMemoryCounter()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "ws", "agent", "purchase", 3)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("allow %d rejected under the limit", i)
		}
	}
	ok, err := m.Allow(ctx, "ws", "agent", "purchase", 3)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("fourth action in the window must be rejected")
	}

	// A minute later the earlier hits have left the trailing window.
	now = now.Add(time.Minute)
	ok, err = m.Allow(ctx, "ws", "agent", "purchase", 3)
	if err != nil {
		t.Fatalf("allow after window passed: %v", err)
	}
	if !ok {
		t.Fatal("action after the window passed must be allowed")
	}
}

func TestMemoryCounterTrailingExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := NewMemoryCounter()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 2); !ok {
		t.Fatal("first action must be allowed")
	}
	now = now.Add(30 * time.Second)
	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 2); !ok {
		t.Fatal("second action must be allowed")
	}
	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 2); ok {
		t.Fatal("third action within the minute must be rejected")
	}

	// 61s after the first hit it falls out of the window; the hit from
	// 30s ago still counts.
	now = now.Add(31 * time.Second)
	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 2); !ok {
		t.Fatal("action must be allowed once the oldest hit expires")
	}
	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 2); ok {
		t.Fatal("window still holds two recent hits")
	}
}

func TestMemoryCounterKeysIndependent(t *testing.T) {
	m := NewMemoryCounter()
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 1); !ok {
		t.Fatal("first purchase must be allowed")
	}
	if ok, _ := m.Allow(ctx, "ws", "agent", "purchase", 1); ok {
		t.Fatal("second purchase must be rejected")
	}
	if ok, _ := m.Allow(ctx, "ws", "agent", "search", 1); !ok {
		t.Fatal("different action type must count separately")
	}
	if ok, _ := m.Allow(ctx, "ws", "other-agent", "purchase", 1); !ok {
		t.Fatal("different agent must count separately")
	}
}

func TestMemoryCounterZeroLimit(t *testing.T) {
	m := NewMemoryCounter()
	if ok, _ := m.Allow(context.Background(), "ws", "agent", "purchase", 0); ok {
		t.Fatal("zero limit must reject every action")
	}
}
