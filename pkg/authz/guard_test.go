package authz_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/authz"
	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/policy"
)

type fakeIndex struct {
	commands map[string]authz.CommandInfo
}

func (f *fakeIndex) Lookup(name string) (authz.CommandInfo, bool) {
	info, ok := f.commands[name]
	return info, ok
}

type recordingValidator struct {
	called bool
	allow  bool
}

func (v *recordingValidator) ValidateTargets(_, _ []string) bool {
	v.called = true
	return v.allow
}

type recordingLimiter struct {
	called bool
	allow  bool
}

func (l *recordingLimiter) Allow(string, int, time.Duration) bool {
	l.called = true
	return l.allow
}

func guardFixture(t *testing.T, scopeOK, rateOK bool) (*authz.Guard, *recordingValidator, *recordingLimiter) {
	t.Helper()
	store, err := policy.NewStoreFromDocument(&policy.Document{
		Version: "1",
		Defaults: policy.Defaults{
			RateLimit: 5, RateWindowSecs: 60, TimeoutSecs: 60, MaxOutputBytes: 1024,
		},
		ElevatedCategories: map[string][]string{
			"web_exploitation": {"exploitation"},
		},
		Commands: []policy.CommandPolicy{
			{Name: "port-scan", RequiredRoles: []string{"operator"}, TargetScoped: true},
			{Name: "sql-injection-scan", RequiredRoles: []string{"operator"}, TargetScoped: true},
			{Name: "list-tools", RequiredRoles: []string{"viewer", "operator"}},
		},
		Requesters: map[string]policy.RequesterPolicy{
			"alice": {Scopes: []string{"10.0.0.0/24"}},
		},
	})
	require.NoError(t, err)

	index := &fakeIndex{commands: map[string]authz.CommandInfo{
		"port-scan":          {Name: "port-scan", Category: "network_scanning", TargetScoped: true},
		"sql-injection-scan": {Name: "sql-injection-scan", Category: "web_exploitation", TargetScoped: true},
		"list-tools":         {Name: "list-tools"},
		"orphan-command":     {Name: "orphan-command"},
	}}
	validator := &recordingValidator{allow: scopeOK}
	limiter := &recordingLimiter{allow: rateOK}
	return authz.NewGuard(store, index, validator, limiter), validator, limiter
}

func request(user string, roles []string, command string, targets ...string) *contracts.InvocationRequest {
	return &contracts.InvocationRequest{
		InvocationID: "inv-1",
		Requester:    contracts.Requester{UserID: user, Roles: roles},
		CommandName:  command,
		Targets:      targets,
	}
}

func TestAuthorizeAllows(t *testing.T) {
	g, validator, limiter := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"operator"}, "port-scan", "10.0.0.5"))
	assert.True(t, d.Allowed)
	assert.Equal(t, contracts.ReasonOK, d.Reason)
	assert.True(t, validator.called)
	assert.True(t, limiter.called)
}

func TestAuthorizeUnknownCommand(t *testing.T) {
	g, validator, limiter := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"operator"}, "no-such-command", "10.0.0.5"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonUnknownCommand, d.Reason)
	assert.False(t, validator.called)
	assert.False(t, limiter.called)
}

func TestAuthorizeRoleDeniedShortCircuits(t *testing.T) {
	g, validator, limiter := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"viewer"}, "port-scan", "10.0.0.5"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonRoleDenied, d.Reason)
	// Later checks never run after a role denial.
	assert.False(t, validator.called)
	assert.False(t, limiter.called)
}

func TestAuthorizeCommandWithoutPolicyDenied(t *testing.T) {
	g, _, _ := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"operator"}, "orphan-command"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonRoleDenied, d.Reason)
	assert.Contains(t, d.Detail, "no role policy")
}

func TestAuthorizeElevatedCategory(t *testing.T) {
	g, _, _ := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"operator"}, "sql-injection-scan", "10.0.0.5"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonRoleDenied, d.Reason)

	d = g.Authorize(request("alice", []string{"operator", "exploitation"}, "sql-injection-scan", "10.0.0.5"))
	assert.True(t, d.Allowed)
}

func TestAuthorizeScopeDeniedShortCircuitsRateLimit(t *testing.T) {
	g, validator, limiter := guardFixture(t, false, true)

	d := g.Authorize(request("alice", []string{"operator"}, "port-scan", "192.168.1.1"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonScopeDenied, d.Reason)
	assert.True(t, validator.called)
	// A scope denial must not consume rate limit budget.
	assert.False(t, limiter.called)
}

func TestAuthorizeTargetScopedWithoutTargets(t *testing.T) {
	g, validator, _ := guardFixture(t, true, true)

	d := g.Authorize(request("alice", []string{"operator"}, "port-scan"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonScopeDenied, d.Reason)
	assert.False(t, validator.called)
}

func TestAuthorizeRateLimited(t *testing.T) {
	g, _, limiter := guardFixture(t, true, false)

	d := g.Authorize(request("alice", []string{"operator"}, "port-scan", "10.0.0.5"))
	require.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonRateLimited, d.Reason)
	assert.True(t, limiter.called)
}

func TestAuthorizeNonTargetScopedSkipsScope(t *testing.T) {
	g, validator, _ := guardFixture(t, false, true)

	d := g.Authorize(request("alice", []string{"viewer"}, "list-tools"))
	assert.True(t, d.Allowed)
	assert.False(t, validator.called)
}

func TestMemoryRateLimiter(t *testing.T) {
	l := authz.NewMemoryRateLimiter()

	// Burst up to the threshold, then deny.
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice\x00port-scan", 3, time.Minute), "request %d", i)
	}
	assert.False(t, l.Allow("alice\x00port-scan", 3, time.Minute))

	// Separate keys have separate budgets.
	assert.True(t, l.Allow("bob\x00port-scan", 3, time.Minute))

	// Zero limit means unlimited.
	assert.True(t, l.Allow("alice\x00port-scan", 0, time.Minute))
}
