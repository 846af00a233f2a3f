// Package capability mints and validates EdDSA-signed capability tokens
// bound to an agent's currently active policy.
package capability

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// SigningKeys is the workspace-wide Ed25519 keypair and its key id.
// Keys are supplied externally; the kernel never generates or rotates
// them, but it carries the kid in token headers so verifiers can select
// the right public key after a rotation.
type SigningKeys struct {
	KeyID      string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// LoadSigningKeys parses PEM-encoded Ed25519 keys. Configuration
// errors here are fatal at startup, never surfaced per-request.
func LoadSigningKeys(keyID, privatePEM, publicPEM string) (*SigningKeys, error) {
	if keyID == "" {
		return nil, fmt.Errorf("capability: missing signing key id")
	}
	priv, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	return &SigningKeys{KeyID: keyID, PrivateKey: priv, PublicKey: pub}, nil
}

func parsePrivateKey(pemText string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(pemText)))
	if block == nil {
		return nil, fmt.Errorf("capability: private key is not valid PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("capability: parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("capability: private key must be Ed25519, got %T", key)
	}
	return priv, nil
}

// ParsePublicKeyPEM parses a PEM-encoded Ed25519 public key.
func ParsePublicKeyPEM(pemText string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(pemText)))
	if block == nil {
		return nil, fmt.Errorf("capability: public key is not valid PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("capability: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("capability: public key must be Ed25519, got %T", key)
	}
	return pub, nil
}

// normalizePEM accepts keys that arrive through environment variables
// with literal "\n" sequences.
func normalizePEM(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\n`, "\n")) + "\n"
}
