package model

// ReasonCode is a stable, enumerable identifier for why a trust decision
// failed. Codes are part of the external contract and must not change
// between releases.
type ReasonCode string

const (
	ReasonAgentNotFound           ReasonCode = "AGENT_NOT_FOUND"
	ReasonAgentRevoked            ReasonCode = "AGENT_REVOKED"
	ReasonPolicyNotBound          ReasonCode = "POLICY_NOT_BOUND"
	ReasonCapabilityInvalid       ReasonCode = "CAPABILITY_INVALID"
	ReasonCapabilityExpired       ReasonCode = "CAPABILITY_EXPIRED"
	ReasonCapabilityRevoked       ReasonCode = "CAPABILITY_REVOKED"
	ReasonCapabilityScopeMismatch ReasonCode = "CAPABILITY_SCOPE_MISMATCH"
	ReasonSignatureInvalid        ReasonCode = "SIGNATURE_INVALID"
	ReasonSpendLimitExceeded      ReasonCode = "SPEND_LIMIT_EXCEEDED"
	ReasonRateLimitExceeded       ReasonCode = "RATE_LIMIT_EXCEEDED"
	ReasonWorkspaceMismatch       ReasonCode = "WORKSPACE_MISMATCH"
)

var knownReasonCodes = map[ReasonCode]bool{
	ReasonAgentNotFound:           true,
	ReasonAgentRevoked:            true,
	ReasonPolicyNotBound:          true,
	ReasonCapabilityInvalid:       true,
	ReasonCapabilityExpired:       true,
	ReasonCapabilityRevoked:       true,
	ReasonCapabilityScopeMismatch: true,
	ReasonSignatureInvalid:        true,
	ReasonSpendLimitExceeded:      true,
	ReasonRateLimitExceeded:       true,
	ReasonWorkspaceMismatch:       true,
}

// IsValidReasonCode reports whether s is one of the stable codes.
func IsValidReasonCode(s string) bool {
	return knownReasonCodes[ReasonCode(s)]
}
