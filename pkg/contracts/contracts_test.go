package contracts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

func TestValidate(t *testing.T) {
	req := &contracts.InvocationRequest{
		Requester:   contracts.Requester{UserID: "alice"},
		CommandName: "port-scan",
	}
	assert.NoError(t, req.Validate(false))
	assert.ErrorIs(t, req.Validate(true), contracts.ErrNoTargets)

	req.Targets = []string{"10.0.0.5"}
	assert.NoError(t, req.Validate(true))

	assert.ErrorIs(t, (&contracts.InvocationRequest{CommandName: "x"}).Validate(false), contracts.ErrEmptyRequesterID)
	assert.ErrorIs(t, (&contracts.InvocationRequest{Requester: contracts.Requester{UserID: "a"}}).Validate(false), contracts.ErrEmptyCommandName)
}

func TestOrderedArguments(t *testing.T) {
	req := &contracts.InvocationRequest{
		Arguments:     map[string]string{"ports": "1-1024", "rate": "100"},
		ArgumentOrder: []string{"rate", "ports", "missing"},
	}
	assert.Equal(t, []string{"100", "1-1024"}, req.OrderedArguments())

	unordered := &contracts.InvocationRequest{Arguments: map[string]string{"only": "v"}}
	assert.Equal(t, []string{"v"}, unordered.OrderedArguments())
}

func TestDurationNeverNegative(t *testing.T) {
	now := time.Now()
	res := &contracts.ExecutionResult{StartedAt: now, FinishedAt: now.Add(-time.Second)}
	assert.Equal(t, time.Duration(0), res.Duration())

	res.FinishedAt = now.Add(2 * time.Second)
	assert.Equal(t, 2*time.Second, res.Duration())
}

func TestSummaryCopiesExitCode(t *testing.T) {
	code := 3
	res := &contracts.ExecutionResult{Status: contracts.StatusFailed, ExitCode: &code}
	s := res.Summary()
	code = 99
	assert.Equal(t, 3, *s.ExitCode)
	assert.Equal(t, contracts.StatusFailed, s.Status)
}

func TestValidSeverity(t *testing.T) {
	assert.True(t, contracts.ValidSeverity(contracts.SeverityCritical))
	assert.False(t, contracts.ValidSeverity("apocalyptic"))
	assert.False(t, contracts.ValidSeverity(""))
}

func TestHasRole(t *testing.T) {
	r := contracts.Requester{UserID: "alice", Roles: []string{"operator", "auditor"}}
	assert.True(t, r.HasRole("auditor"))
	assert.False(t, r.HasRole("admin"))
}
