package contracts

import "time"

// DecisionReason explains an authorization outcome.
type DecisionReason string

const (
	ReasonOK             DecisionReason = "OK"
	ReasonRoleDenied     DecisionReason = "ROLE_DENIED"
	ReasonScopeDenied    DecisionReason = "SCOPE_DENIED"
	ReasonRateLimited    DecisionReason = "RATE_LIMITED"
	ReasonUnknownCommand DecisionReason = "UNKNOWN_COMMAND"
)

// AuthorizationDecision is the immutable output of the authorization guard.
// It is created once per invocation and persisted via the audit recorder.
type AuthorizationDecision struct {
	Allowed   bool           `json:"allowed"`
	Reason    DecisionReason `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
	DecidedAt time.Time      `json:"decided_at"`
}

// Deny builds a denial with the given reason.
func Deny(reason DecisionReason, detail string, at time.Time) AuthorizationDecision {
	return AuthorizationDecision{Allowed: false, Reason: reason, Detail: detail, DecidedAt: at}
}

// Allow builds a permit decision.
func Allow(at time.Time) AuthorizationDecision {
	return AuthorizationDecision{Allowed: true, Reason: ReasonOK, DecidedAt: at}
}
