// Package authz implements the authorization guard: a deterministic,
// side-effect-free decision over a resolved invocation request. The guard
// never logs; recording decisions is the orchestrator's job via the audit
// recorder.
package authz

import (
	"fmt"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/policy"
)

// CommandInfo is the slice of registry metadata the guard needs.
type CommandInfo struct {
	Name         string
	Category     string
	TargetScoped bool
}

// CommandIndex resolves command names. Implemented by the extension
// registry's capability index.
type CommandIndex interface {
	Lookup(name string) (CommandInfo, bool)
}

// TargetValidator checks targets against a requester scope list.
// Implemented by scope.Validator.
type TargetValidator interface {
	ValidateTargets(scopes, targets []string) bool
}

// RateLimiter answers whether one more request is admitted for a key.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) bool
}

// Guard evaluates invocation requests against policy. Checks run in a
// fixed short-circuit order: unknown command, roles, scope, rate limit.
type Guard struct {
	policies *policy.Store
	index    CommandIndex
	targets  TargetValidator
	limiter  RateLimiter
	now      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard wires a guard. All collaborators are required except options.
func NewGuard(policies *policy.Store, index CommandIndex, targets TargetValidator, limiter RateLimiter, opts ...Option) *Guard {
	g := &Guard{
		policies: policies,
		index:    index,
		targets:  targets,
		limiter:  limiter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides one request. The decision is all-or-nothing: a single
// out-of-scope target denies every target in the request, so a partially
// authorized multi-target scan can never leak.
func (g *Guard) Authorize(req *contracts.InvocationRequest) contracts.AuthorizationDecision {
	now := g.now().UTC()
	snap := g.policies.Snapshot()

	// 1. Command must exist in the capability index.
	info, ok := g.index.Lookup(req.CommandName)
	if !ok {
		return contracts.Deny(contracts.ReasonUnknownCommand,
			fmt.Sprintf("command %q is not registered", req.CommandName), now)
	}

	cmd, ok := snap.Command(req.CommandName)
	if !ok {
		// Registered but absent from policy: no role set can permit it.
		return contracts.Deny(contracts.ReasonRoleDenied,
			fmt.Sprintf("command %q has no role policy", req.CommandName), now)
	}

	// 2. Role check, including the elevated-category requirement.
	if !hasAnyRole(req.Requester, cmd.RequiredRoles) {
		return contracts.Deny(contracts.ReasonRoleDenied,
			fmt.Sprintf("requires one of %v", cmd.RequiredRoles), now)
	}
	if elevated, restricted := snap.ElevatedRoles(info.Category); restricted {
		if !hasAnyRole(req.Requester, elevated) {
			return contracts.Deny(contracts.ReasonRoleDenied,
				fmt.Sprintf("category %q requires one of %v", info.Category, elevated), now)
		}
	}
	if guards := snap.Guards(); guards != nil {
		deniedBy, err := guards.Evaluate(policy.GuardInput{
			RequesterID: req.Requester.UserID,
			Roles:       req.Requester.Roles,
			Command:     req.CommandName,
			Category:    info.Category,
			Targets:     req.Targets,
		})
		if err != nil {
			// Fail closed: an unevaluable rule set permits nothing.
			return contracts.Deny(contracts.ReasonRoleDenied, "guard evaluation failed", now)
		}
		if deniedBy != "" {
			return contracts.Deny(contracts.ReasonRoleDenied,
				fmt.Sprintf("guard rule %q denied", deniedBy), now)
		}
	}

	// 3. Scope check for target-scoped commands, all-or-nothing.
	if info.TargetScoped {
		if len(req.Targets) == 0 {
			return contracts.Deny(contracts.ReasonScopeDenied, "no targets supplied", now)
		}
		scopes := snap.Scopes(req.Requester.UserID)
		if !g.targets.ValidateTargets(scopes, req.Targets) {
			return contracts.Deny(contracts.ReasonScopeDenied,
				"one or more targets outside authorized scope", now)
		}
	}

	// 4. Rate limit keyed by (requester, command).
	limit, window := snap.RateLimit(cmd)
	if limit > 0 {
		key := req.Requester.UserID + "\x00" + req.CommandName
		if !g.limiter.Allow(key, limit, window) {
			return contracts.Deny(contracts.ReasonRateLimited,
				fmt.Sprintf("exceeded %d requests per %s", limit, window), now)
		}
	}

	return contracts.Allow(now)
}

func hasAnyRole(r contracts.Requester, roles []string) bool {
	for _, role := range roles {
		if r.HasRole(role) {
			return true
		}
	}
	return false
}
