package kya

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/kevinmarty69/know-your-agent/internal/canonical"
)

// SignEnvelope signs the canonical action envelope and returns the
// base64 signature. The signature covers the SHA-256 digest of the
// canonical envelope bytes, the construction every kya SDK shares.
func SignEnvelope(key ed25519.PrivateKey, workspaceID, agentID, actionType, targetService string, payload map[string]any, jti string) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("kya: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	digest, err := canonical.Digest(map[string]any{
		"agent_id":       agentID,
		"workspace_id":   workspaceID,
		"action_type":    actionType,
		"target_service": targetService,
		"payload":        payload,
		"capability_jti": jti,
	})
	if err != nil {
		return "", fmt.Errorf("kya: encode envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest[:])), nil
}
