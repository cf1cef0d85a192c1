// Package contracts defines the shared data model flowing through the
// orchestration pipeline: invocation requests, authorization decisions,
// execution results, and audit records.
package contracts

import (
	"errors"
	"time"
)

var (
	ErrNoTargets        = errors.New("target-scoped command requires at least one target")
	ErrEmptyCommandName = errors.New("command name must not be empty")
	ErrEmptyRequesterID = errors.New("requester id must not be empty")
)

// Requester identifies who is asking for an invocation.
type Requester struct {
	UserID    string   `json:"user_id"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"session_id,omitempty"`
}

// HasRole reports whether the requester carries the given role.
func (r Requester) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// InvocationRequest is the unit of work entering the core.
// It is immutable once created; callers must not mutate it after Submit.
type InvocationRequest struct {
	InvocationID string            `json:"invocation_id"`
	Requester    Requester         `json:"requester"`
	CommandName  string            `json:"command_name"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	// ArgumentOrder preserves caller-supplied parameter order for
	// process-backed handlers whose CLIs are position sensitive.
	ArgumentOrder []string  `json:"argument_order,omitempty"`
	Targets       []string  `json:"targets,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Validate performs structural checks that do not depend on policy.
// targetScoped tells whether the resolved command acts on targets.
func (r *InvocationRequest) Validate(targetScoped bool) error {
	if r.Requester.UserID == "" {
		return ErrEmptyRequesterID
	}
	if r.CommandName == "" {
		return ErrEmptyCommandName
	}
	if targetScoped && len(r.Targets) == 0 {
		return ErrNoTargets
	}
	return nil
}

// OrderedArguments returns the argument values in caller order, falling
// back to map iteration when no explicit order was supplied.
func (r *InvocationRequest) OrderedArguments() []string {
	if len(r.ArgumentOrder) > 0 {
		out := make([]string, 0, len(r.ArgumentOrder))
		for _, name := range r.ArgumentOrder {
			if v, ok := r.Arguments[name]; ok {
				out = append(out, v)
			}
		}
		return out
	}
	out := make([]string, 0, len(r.Arguments))
	for _, v := range r.Arguments {
		out = append(out, v)
	}
	return out
}
