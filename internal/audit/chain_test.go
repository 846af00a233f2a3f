package audit

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

func newTestChain(t *testing.T) (*Chain, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kya.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ws, err := s.CreateWorkspace(context.Background(), s.DB(), "Test Workspace", "")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return NewChain(s), s, ws.ID
}

func appendTestEvents(t *testing.T, c *Chain, s *store.Store, workspaceID string, n int) []*model.AuditEvent {
	t.Helper()
	out := make([]*model.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		ev, err := c.Append(context.Background(), s.DB(), Entry{
			WorkspaceID: workspaceID,
			EventType:   "action.requested",
			ActorType:   "agent",
			ActorID:     "agent-1",
			SubjectType: "action",
			EventData:   map[string]any{"seq": float64(i)},
		})
		if err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
		out = append(out, ev)
		// Distinct timestamps keep the walk order identical to the
		// append order.
		time.Sleep(time.Millisecond)
	}
	return out
}

// --- Chain append tests ---

func TestAppendLinksEvents(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 3)

	if events[0].PrevHash != "" {
		t.Fatalf("first event prev_hash = %q, want empty", events[0].PrevHash)
	}
	for i, ev := range events {
		if !strings.HasPrefix(ev.EventHash, "sha256:") {
			t.Fatalf("event %d hash = %q, want sha256 prefix", i, ev.EventHash)
		}
		if i > 0 && ev.PrevHash != events[i-1].EventHash {
			t.Fatalf("event %d prev_hash = %q, want %q", i, ev.PrevHash, events[i-1].EventHash)
		}
		recomputed, err := ComputeEventHash(ev)
		if err != nil {
			t.Fatalf("recompute hash: %v", err)
		}
		if recomputed != ev.EventHash {
			t.Fatalf("event %d recomputed hash %q != stored %q", i, recomputed, ev.EventHash)
		}
	}
}

func TestAppendDefaultsActorType(t *testing.T) {
	c, s, wsID := newTestChain(t)
	ev, err := c.Append(context.Background(), s.DB(), Entry{
		WorkspaceID: wsID,
		EventType:   "workspace.created",
		SubjectType: "workspace",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ActorType != "system" {
		t.Fatalf("actor_type = %q, want system", ev.ActorType)
	}
	if ev.EventData == nil {
		t.Fatal("event_data is nil, want empty map")
	}
}

func TestAppendConcurrent(t *testing.T) {
	c, s, wsID := newTestChain(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Append(context.Background(), s.DB(), Entry{
				WorkspaceID: wsID,
				EventType:   "action.requested",
				ActorType:   "agent",
				SubjectType: "action",
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s), want OK", res.Status, res.Message)
	}
	if res.CheckedCount != n {
		t.Fatalf("checked_count = %d, want %d", res.CheckedCount, n)
	}
}

// --- Integrity check tests ---

func TestCheckIntegrityValidChain(t *testing.T) {
	c, s, wsID := newTestChain(t)
	appendTestEvents(t, c, s, wsID, 4)

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s), want OK", res.Status, res.Message)
	}
	if res.CheckedCount != 4 {
		t.Fatalf("checked_count = %d, want 4", res.CheckedCount)
	}
	if res.BrokenAtEventID != "" {
		t.Fatalf("broken_at_event_id = %q, want empty", res.BrokenAtEventID)
	}
}

func TestCheckIntegrityEmptyRange(t *testing.T) {
	c, s, wsID := newTestChain(t)

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q, want OK", res.Status)
	}
	if res.CheckedCount != 0 {
		t.Fatalf("checked_count = %d, want 0", res.CheckedCount)
	}
	if res.Message != "no events in selected range" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestCheckIntegrityTamperedData(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 3)

	_, err := s.DB().ExecContext(context.Background(),
		`UPDATE audit_events SET event_data = ? WHERE id = ?`,
		`{"seq":99}`, events[1].ID,
	)
	if err != nil {
		t.Fatalf("tamper event: %v", err)
	}

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusBroken {
		t.Fatalf("status = %q, want BROKEN", res.Status)
	}
	if res.BrokenAtEventID != events[1].ID {
		t.Fatalf("broken_at_event_id = %q, want %q", res.BrokenAtEventID, events[1].ID)
	}
	if res.CheckedCount != 2 {
		t.Fatalf("checked_count = %d, want 2", res.CheckedCount)
	}
}

func TestCheckIntegrityBrokenLink(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 3)

	_, err := s.DB().ExecContext(context.Background(),
		`UPDATE audit_events SET prev_hash = ? WHERE id = ?`,
		"sha256:0000000000000000000000000000000000000000000000000000000000000000",
		events[2].ID,
	)
	if err != nil {
		t.Fatalf("tamper link: %v", err)
	}

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusBroken {
		t.Fatalf("status = %q, want BROKEN", res.Status)
	}
	if res.BrokenAtEventID != events[2].ID {
		t.Fatalf("broken_at_event_id = %q, want %q", res.BrokenAtEventID, events[2].ID)
	}
	if res.CheckedCount != 3 {
		t.Fatalf("checked_count = %d, want 3", res.CheckedCount)
	}
}

func TestCheckIntegrityMissingHash(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 3)

	_, err := s.DB().ExecContext(context.Background(),
		`UPDATE audit_events SET event_hash = NULL WHERE id = ?`, events[1].ID,
	)
	if err != nil {
		t.Fatalf("clear hash: %v", err)
	}

	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("status = %q, want PARTIAL", res.Status)
	}
	if res.CheckedCount != 2 {
		t.Fatalf("checked_count = %d, want 2", res.CheckedCount)
	}
}

func TestCheckIntegrityWindowStartsMidChain(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 4)

	from := events[1].EventTime
	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, &from, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("status = %q (%s), want PARTIAL", res.Status, res.Message)
	}
	if res.CheckedCount != 3 {
		t.Fatalf("checked_count = %d, want 3", res.CheckedCount)
	}
}

func TestCheckIntegrityWindowFromChainStart(t *testing.T) {
	c, s, wsID := newTestChain(t)
	events := appendTestEvents(t, c, s, wsID, 3)

	// A window that happens to start at the true beginning still proves
	// full continuity.
	from := events[0].EventTime
	res, err := c.CheckIntegrity(context.Background(), s.DB(), wsID, &from, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s), want OK", res.Status, res.Message)
	}
	if res.CheckedCount != 3 {
		t.Fatalf("checked_count = %d, want 3", res.CheckedCount)
	}
}

func TestChainsIsolatedPerWorkspace(t *testing.T) {
	c, s, wsID := newTestChain(t)
	other, err := s.CreateWorkspace(context.Background(), s.DB(), "Other Workspace", "")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	appendTestEvents(t, c, s, wsID, 2)
	ev, err := c.Append(context.Background(), s.DB(), Entry{
		WorkspaceID: other.ID,
		EventType:   "workspace.created",
		SubjectType: "workspace",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.PrevHash != "" {
		t.Fatalf("other workspace first event prev_hash = %q, want empty", ev.PrevHash)
	}

	res, err := c.CheckIntegrity(context.Background(), s.DB(), other.ID, nil, nil)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if res.Status != StatusOK || res.CheckedCount != 1 {
		t.Fatalf("status = %q checked_count = %d, want OK/1", res.Status, res.CheckedCount)
	}
}
