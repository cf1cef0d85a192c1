package contracts

import "time"

// ExecutionStatus is the terminal state of one invocation.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING" // internal marker, never returned to callers as terminal
	StatusSuccess   ExecutionStatus = "SUCCESS"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusTimedOut  ExecutionStatus = "TIMED_OUT"
	StatusCancelled ExecutionStatus = "CANCELLED"
	// StatusAuditFailure marks an invocation whose audit record could not
	// be durably written. Distinct from FAILED so callers never confuse an
	// unauditable execution with a tool failure.
	StatusAuditFailure ExecutionStatus = "AUDIT_FAILURE"
)

// Terminal reports whether the status is a final pipeline outcome.
func (s ExecutionStatus) Terminal() bool {
	return s != StatusPending
}

// Severity is the closed severity scale every tool maps into.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a member of the closed enum.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Finding is one normalized observation produced by a tool.
type Finding struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Target      string   `json:"target,omitempty"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence,omitempty"`
}

// StructuredOutput is the fixed normalizer schema, identical for every tool.
type StructuredOutput struct {
	Tool     string    `json:"tool"`
	Findings []Finding `json:"findings"`
}

// ExecutionResult is the normalized output of running a command.
type ExecutionResult struct {
	InvocationID string          `json:"invocation_id"`
	Status       ExecutionStatus `json:"status"`
	// ExitCode is only meaningful when Status is SUCCESS or FAILED and the
	// handler was process backed; nil otherwise.
	ExitCode   *int              `json:"exit_code,omitempty"`
	Structured *StructuredOutput `json:"structured_output,omitempty"`
	RawOutput  []byte            `json:"raw_output,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Duration returns FinishedAt - StartedAt, never negative.
func (r *ExecutionResult) Duration() time.Duration {
	d := r.FinishedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Summary reduces the result to the fields an audit record carries.
func (r *ExecutionResult) Summary() ResultSummary {
	s := ResultSummary{Status: r.Status}
	if r.ExitCode != nil {
		code := *r.ExitCode
		s.ExitCode = &code
	}
	return s
}

// ResultSummary is the audit-safe projection of an execution result:
// status and exit code, never raw output.
type ResultSummary struct {
	Status   ExecutionStatus `json:"status"`
	ExitCode *int            `json:"exit_code,omitempty"`
}

// ExecutionLimits bounds one execution.
type ExecutionLimits struct {
	Timeout       time.Duration `json:"timeout"`
	MaxOutputSize int64         `json:"max_output_size"`
	// WorkDir and Env describe the optional sandbox for process handlers.
	// Kernel/container level isolation is the deployment's concern; these
	// hooks only narrow where and with what environment the process runs.
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}
