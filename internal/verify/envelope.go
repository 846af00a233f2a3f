// Package verify implements the signed-action verification pipeline:
// signature checking over canonical envelopes and the strict-precedence
// decision logic that turns one verify request into an ALLOW or DENY
// plus its audit trail.
package verify

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/kevinmarty69/know-your-agent/internal/canonical"
)

// Envelope is the exact structure an agent signs. The digest is SHA-256
// over the canonical bytes; the Ed25519 signature covers the 32-byte
// digest, not the raw canonical text.
type Envelope struct {
	AgentID       string
	WorkspaceID   string
	ActionType    string
	TargetService string
	Payload       map[string]any
	CapabilityJTI string
}

// Digest returns the SHA-256 digest of the envelope's canonical form.
func (e Envelope) Digest() ([32]byte, error) {
	return canonical.Digest(map[string]any{
		"agent_id":       e.AgentID,
		"workspace_id":   e.WorkspaceID,
		"action_type":    e.ActionType,
		"target_service": e.TargetService,
		"payload":        e.Payload,
		"capability_jti": e.CapabilityJTI,
	})
}

// VerifySignature checks signatureB64 against the envelope digest using
// the agent's registered public key (base64 of the raw 32-byte key).
// Malformed base64, wrong-length keys and crypto mismatches all report
// false; callers never learn which.
func VerifySignature(publicKeyB64 string, env Envelope, signatureB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	digest, err := env.Digest()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}
