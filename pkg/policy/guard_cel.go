package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// GuardEvaluator evaluates CEL guard rules against an invocation. Rules
// are compiled once at policy load; evaluation is pure and bounded by a
// hard cost limit so a pathological rule cannot stall the pipeline.
type GuardEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	progs map[string]cel.Program
	rules []GuardRule
}

// GuardInput is the variable set every rule sees.
type GuardInput struct {
	RequesterID string
	Roles       []string
	Command     string
	Category    string
	Targets     []string
}

// NewGuardEvaluator compiles the enabled rules. A rule that fails to
// compile makes the whole policy load fail; bad policy is a deployment
// error, not something to discover per request.
func NewGuardEvaluator(rules []GuardRule) (*GuardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("requester", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("command", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("targets", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}

	ev := &GuardEvaluator{env: env, progs: make(map[string]cel.Program)}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: guard %q compile: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: guard %q program: %w", r.ID, err)
		}
		ev.progs[r.ID] = prg
		ev.rules = append(ev.rules, r)
	}
	return ev, nil
}

// Evaluate runs every enabled rule. It returns the ID of the first rule
// that denies, or "" when all rules pass. Evaluation errors deny
// (fail closed) and report the offending rule.
func (e *GuardEvaluator) Evaluate(in GuardInput) (deniedBy string, err error) {
	if e == nil {
		return "", nil
	}
	input := map[string]any{
		"requester": in.RequesterID,
		"roles":     in.Roles,
		"command":   in.Command,
		"category":  in.Category,
		"targets":   in.Targets,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		prg := e.progs[r.ID]
		out, _, err := prg.Eval(input)
		if err != nil {
			return r.ID, fmt.Errorf("policy: guard %q eval: %w", r.ID, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return r.ID, fmt.Errorf("policy: guard %q result is not bool", r.ID)
		}
		if !allowed {
			return r.ID, nil
		}
	}
	return "", nil
}
