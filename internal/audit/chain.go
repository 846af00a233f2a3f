package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

// Chain appends hash-linked events to a workspace's audit log. Appends
// for the same workspace serialize on a per-workspace mutex held across
// read-tail, compute-hash, and insert; appends for different workspaces
// never contend.
type Chain struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChain creates a Chain over the given store.
func NewChain(s *store.Store) *Chain {
	return &Chain{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// workspaceLock returns the serialization mutex for one workspace,
// creating it on first use. The Go generalization of the original
// per-workspace database advisory lock.
func (c *Chain) workspaceLock(workspaceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[workspaceID] = l
	}
	return l
}

// Entry carries the caller-supplied fields of one audit event.
type Entry struct {
	WorkspaceID string
	EventType   string
	ActorType   string // defaults to "system"
	ActorID     string
	SubjectType string
	SubjectID   string
	EventData   map[string]any
	PayloadHash string
}

// Append writes one event to the workspace's chain within q. The write
// is not best-effort: any failure must fail the enclosing business
// operation, so callers run Append inside the same transaction as their
// own writes.
//
// Callers that manage their own workspace critical section (see Locked)
// should use AppendLocked instead.
func (c *Chain) Append(ctx context.Context, q store.DBTX, e Entry) (*model.AuditEvent, error) {
	lock := c.workspaceLock(e.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()
	return c.AppendLocked(ctx, q, e)
}

// AppendLocked is Append without acquiring the workspace lock. The
// caller must hold the lock obtained via Locked for e.WorkspaceID.
func (c *Chain) AppendLocked(ctx context.Context, q store.DBTX, e Entry) (*model.AuditEvent, error) {
	prevHash, err := c.store.TailEventHash(ctx, q, e.WorkspaceID)
	if err != nil {
		return nil, err
	}

	actorType := e.ActorType
	if actorType == "" {
		actorType = "system"
	}
	data := e.EventData
	if data == nil {
		data = map[string]any{}
	}

	ev := &model.AuditEvent{
		ID:          uuid.NewString(),
		WorkspaceID: e.WorkspaceID,
		EventType:   e.EventType,
		ActorType:   actorType,
		ActorID:     e.ActorID,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		EventTime:   time.Now().UTC(),
		EventData:   data,
		PayloadHash: e.PayloadHash,
		PrevHash:    prevHash,
	}
	ev.EventHash, err = ComputeEventHash(ev)
	if err != nil {
		return nil, err
	}
	if err := c.store.InsertAuditEvent(ctx, q, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Locked runs fn while holding the workspace's serialization lock.
// Business operations that must commit their own writes atomically with
// a chain append (issuance, rebinding, verification) wrap their whole
// transaction in it.
func (c *Chain) Locked(workspaceID string, fn func() error) error {
	lock := c.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
