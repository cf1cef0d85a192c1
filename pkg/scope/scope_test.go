package scope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/scope"
)

func TestTargetAuthorized(t *testing.T) {
	v := scope.NewValidator()
	scopes := []string{"10.0.0.0/24", "*.example.com", "scanme.target.net", "203.0.113.7"}

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"address inside cidr", "10.0.0.5", true},
		{"cidr boundary low", "10.0.0.0", true},
		{"cidr boundary high", "10.0.0.255", true},
		{"address outside cidr", "10.0.1.5", false},
		{"narrower cidr inside", "10.0.0.0/28", true},
		{"wider cidr rejected", "10.0.0.0/16", false},
		{"wildcard base domain", "example.com", true},
		{"wildcard subdomain", "api.example.com", true},
		{"wildcard deep subdomain", "a.b.example.com", true},
		{"unrelated domain", "example.org", false},
		{"suffix lookalike", "notexample.com", false},
		{"exact host", "scanme.target.net", true},
		{"exact host subdomain not covered", "sub.scanme.target.net", false},
		{"exact ip", "203.0.113.7", true},
		{"url reduces to host", "https://api.example.com:8443/path", true},
		{"case insensitive", "API.EXAMPLE.COM", true},
		{"empty target", "", false},
		{"malformed target fails closed", "not a host!", false},
		{"malformed cidr fails closed", "10.0.0.0/99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.TargetAuthorized(scopes, tt.target))
		})
	}
}

func TestValidateTargetsAllOrNothing(t *testing.T) {
	v := scope.NewValidator()
	scopes := []string{"10.0.0.0/24"}

	require.True(t, v.ValidateTargets(scopes, []string{"10.0.0.1", "10.0.0.2"}))

	// One out-of-scope target rejects the whole set.
	assert.False(t, v.ValidateTargets(scopes, []string{"10.0.0.1", "192.168.1.1"}))
	assert.False(t, v.ValidateTargets(scopes, []string{"10.0.0.1", "garbage target"}))
	assert.False(t, v.ValidateTargets(scopes, nil))
}

func TestBlockedRangesNeverAuthorized(t *testing.T) {
	v := scope.NewValidator()
	// Even an explicit scope grant cannot authorize these.
	scopes := []string{"127.0.0.0/8", "0.0.0.0/0", "localhost", "::1/128"}

	for _, target := range []string{"127.0.0.1", "localhost", "169.254.1.1", "224.0.0.1", "::1", "fe80::1"} {
		assert.False(t, v.TargetAuthorized(scopes, target), "target %s must stay blocked", target)
	}
}

func TestMappedIPv6LiteralsStayBlocked(t *testing.T) {
	v := scope.NewValidator()
	// IPv4-mapped spellings of denied addresses, with scope entries that
	// would grant the mapped forms if the deny list missed them.
	scopes := []string{"::ffff:127.0.0.1", "::ffff:0:0/96", "0.0.0.0/0"}

	for _, target := range []string{"::ffff:127.0.0.1", "::ffff:169.254.1.1", "::ffff:224.0.0.1"} {
		assert.False(t, v.TargetAuthorized(scopes, target), "target %s must stay blocked", target)
	}
}

func TestPrivateSpaceScannableWhenGranted(t *testing.T) {
	v := scope.NewValidator()
	assert.True(t, v.TargetAuthorized([]string{"192.168.0.0/16"}, "192.168.1.10"))
	assert.False(t, v.TargetAuthorized([]string{"10.0.0.0/24"}, "192.168.1.10"))
}

func TestEmptyScopeAuthorizesNothing(t *testing.T) {
	v := scope.NewValidator()
	assert.False(t, v.TargetAuthorized(nil, "example.com"))
	assert.False(t, v.ValidateTargets([]string{}, []string{"example.com"}))
}
