// Package model holds the domain entities shared by the trust kernel:
// workspaces, agents, policies, bindings, capabilities, and audit events.
package model

import "time"

// TimeFormat is the fixed-width UTC timestamp layout used everywhere a
// time is persisted or hashed. Microsecond precision with an explicit
// offset keeps lexicographic order equal to chronological order and
// matches the ISO-8601 form the cross-language SDKs produce.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

// FormatTime renders t in the canonical persisted form (always UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp in the canonical persisted form.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Agent lifecycle states.
const (
	AgentStatusActive  = "active"
	AgentStatusRevoked = "revoked"
)

// Binding lifecycle states.
const (
	BindingStatusActive   = "active"
	BindingStatusInactive = "inactive"
)

// Capability lifecycle states.
const (
	CapabilityStatusActive  = "active"
	CapabilityStatusRevoked = "revoked"
)

// Workspace is the isolation boundary for agents, policies, capabilities,
// and audit chains.
type Workspace struct {
	ID        string
	Name      string
	Slug      string
	Status    string
	CreatedAt time.Time
}

// Agent is a registered autonomous actor identified by an Ed25519 key.
type Agent struct {
	ID           string
	WorkspaceID  string
	Name         string
	Status       string
	PublicKey    string // base64 of the raw 32-byte Ed25519 public key
	KeyAlg       string
	Fingerprint  string // "sha256:<hex>" of the decoded key bytes
	RuntimeType  string
	Metadata     map[string]any
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Policy is an immutable versioned policy document. The kernel never
// mutates IsActive; it is an administrative flag.
type Policy struct {
	ID            string
	WorkspaceID   string
	Name          string
	Version       int
	IsActive      bool
	SchemaVersion int
	Document      map[string]any
	CreatedAt     time.Time
}

// AgentPolicyBinding links an agent to a policy. At most one binding per
// agent has status "active"; rebinding deactivates the previous binding
// and records UnboundAt, producing history rather than deletion.
type AgentPolicyBinding struct {
	ID          string
	WorkspaceID string
	AgentID     string
	PolicyID    string
	Status      string
	BoundAt     time.Time
	UnboundAt   *time.Time
}

// Capability is a minted grant. Immutable after creation except the
// status/revocation fields.
type Capability struct {
	ID           string
	WorkspaceID  string
	AgentID      string
	JTI          string
	Scopes       []string
	Limits       map[string]any
	Status       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// AuditEvent is one append-only entry in a workspace's hash chain.
// Once written, the hash fields are never recomputed or mutated.
type AuditEvent struct {
	ID          string
	WorkspaceID string
	EventType   string
	ActorType   string
	ActorID     string // empty means null
	SubjectType string
	SubjectID   string // empty means null
	EventTime   time.Time
	EventData   map[string]any
	PayloadHash string // empty means null
	PrevHash    string // empty means null
	EventHash   string // empty means null (legacy un-hashed rows)
}

// Audit event types emitted by the kernel.
const (
	EventWorkspaceCreated    = "workspace.created"
	EventAgentCreated        = "agent.created"
	EventAgentRevoked        = "agent.revoked"
	EventPolicyCreated       = "policy.created"
	EventPolicyBound         = "policy.bound"
	EventCapabilityIssued    = "capability.issued"
	EventCapabilityRevoked   = "capability.revoked"
	EventVerificationRequest = "action.verification.requested"
	EventVerificationAllowed = "action.verification.allowed"
	EventVerificationDenied  = "action.verification.denied"
)

// Decision values returned by the verification pipeline.
const (
	DecisionAllow = "ALLOW"
	DecisionDeny  = "DENY"
)

// Decision is the transient outcome of one verify request. It is not
// persisted as its own entity; it is always accompanied by audit events.
type Decision struct {
	Decision     string
	ReasonCode   ReasonCode // empty when allowed
	AuditEventID string     // id of the final allowed/denied event
}
