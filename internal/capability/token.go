package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// Claims is the capability token payload. Scopes and limits are
// snapshotted from the policy at issuance time; later policy edits do
// not change tokens already in flight.
type Claims struct {
	Subject       string         `json:"sub"`
	WorkspaceID   string         `json:"workspace_id"`
	Scopes        []string       `json:"scopes"`
	Limits        map[string]any `json:"limits,omitempty"`
	PolicyID      string         `json:"policy_id"`
	PolicyVersion int            `json:"policy_version"`
	IssuedAt      int64          `json:"iat"`
	ExpiresAt     int64          `json:"exp"`
	TokenID       string         `json:"jti"`
}

// GetExpirationTime and friends implement jwt.Claims so validation
// leeway applies during decode.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// EncodeToken signs claims as an EdDSA JWT carrying the signing key id
// in the header.
func EncodeToken(keys *SigningKeys, claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = keys.KeyID
	signed, err := tok.SignedString(keys.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("capability: sign token: %w", err)
	}
	return signed, nil
}

// DecodeToken validates signature, algorithm and expiry and returns
// the claims. Every failure mode collapses to CAPABILITY_INVALID or
// CAPABILITY_EXPIRED; callers do not learn which check failed beyond
// that split.
func DecodeToken(keys *SigningKeys, token string, leeway time.Duration) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return keys.PublicKey, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithLeeway(leeway), jwt.WithExpirationRequired())
	if err != nil {
		code := model.ReasonCapabilityInvalid
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = model.ReasonCapabilityExpired
		}
		return nil, model.NewError(model.KindAuthorization, string(code), "capability token rejected")
	}
	if claims.Subject == "" || claims.WorkspaceID == "" || claims.TokenID == "" ||
		claims.IssuedAt == 0 || claims.ExpiresAt == 0 {
		return nil, model.NewError(model.KindAuthorization, string(model.ReasonCapabilityInvalid), "capability token rejected")
	}
	return claims, nil
}
