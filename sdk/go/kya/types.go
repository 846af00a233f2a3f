package kya

import (
	"crypto/ed25519"
	"fmt"
)

// Identity is the agent's registered identity and signing key. The
// private key never leaves the process; only signatures travel.
type Identity struct {
	WorkspaceID string
	AgentID     string
	PrivateKey  ed25519.PrivateKey
}

// CapabilityRequest asks the kernel for a short-lived capability.
type CapabilityRequest struct {
	Action        string
	TargetService string
	Scopes        []string
	Limits        map[string]any
	TTLMinutes    int // 0 means the kernel's default
}

// Grant is an issued capability. Token is the signed JWT to present on
// verify calls; JTI identifies it for revocation.
type Grant struct {
	CapabilityID string `json:"capability_id"`
	Token        string `json:"token"`
	JTI          string `json:"jti"`
	IssuedAt     string `json:"issued_at"`
	ExpiresAt    string `json:"expires_at"`
}

// Action describes one action the agent wants verified.
type Action struct {
	ActionType    string
	TargetService string
	Payload       map[string]any
}

// Decision is the kernel's verdict on one action.
type Decision struct {
	Decision     string  `json:"decision"`
	ReasonCode   *string `json:"reason_code"`
	AuditEventID string  `json:"audit_event_id"`
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Decision == "ALLOW" }

// Reason returns the deny reason code, or "" when allowed.
func (d Decision) Reason() string {
	if d.ReasonCode == nil {
		return ""
	}
	return *d.ReasonCode
}

// APIError is a non-2xx kernel response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kya: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}
