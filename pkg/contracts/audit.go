package contracts

import "time"

// AuditRecord is one append-only entry capturing an authorization decision
// and its execution outcome. Once appended it is never modified or deleted
// by this core; retention is an external policy concern.
type AuditRecord struct {
	RecordID     string                `json:"record_id"`
	Sequence     uint64                `json:"sequence"`
	InvocationID string                `json:"invocation_id"`
	Requester    Requester             `json:"requester"`
	CommandName  string                `json:"command_name"`
	Targets      []string              `json:"targets,omitempty"`
	Decision     AuthorizationDecision `json:"decision"`
	Result       *ResultSummary        `json:"result,omitempty"`
	RecordedAt   time.Time             `json:"recorded_at"`
	// PreviousHash and RecordHash chain entries so tampering with any
	// record invalidates every later one.
	PreviousHash string `json:"previous_hash"`
	RecordHash   string `json:"record_hash"`
}
