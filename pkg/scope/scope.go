// Package scope decides whether requested targets fall inside a
// requester's authorized scope list. Matching is exact-or-more-specific
// and fails closed: malformed targets never authorize.
package scope

import (
	"net/netip"
	"net/url"
	"strings"
)

// Entry kinds accepted in a scope list:
//
//	exact host        "scanme.example.com", "203.0.113.7"
//	CIDR range        "10.0.0.0/24", "2001:db8::/48"
//	domain suffix     "*.example.com"
//
// A wildcard entry matches the base domain and any subdomain of it,
// never an unrelated domain or top-level domain.

// blockedPrefixes are never-scannable ranges regardless of scope grants:
// loopback, link-local, unspecified, and multicast. Private RFC1918 space
// is scannable when (and only when) a scope entry grants it.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/32"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

var blockedHosts = map[string]bool{
	"localhost": true,
}

// Validator checks targets against scope lists.
// The zero value is not usable; construct with NewValidator.
type Validator struct {
	blocked []netip.Prefix
}

// NewValidator returns a validator with the built-in deny list.
func NewValidator() *Validator {
	return &Validator{blocked: blockedPrefixes}
}

// ValidateTargets reports whether every target in targets is authorized
// by at least one entry in scopes. All-or-nothing: a single out-of-scope
// or malformed target rejects the whole set.
func (v *Validator) ValidateTargets(scopes, targets []string) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !v.TargetAuthorized(scopes, t) {
			return false
		}
	}
	return true
}

// TargetAuthorized reports whether a single target matches the scope list.
func (v *Validator) TargetAuthorized(scopes []string, target string) bool {
	host, ok := normalizeTarget(target)
	if !ok {
		return false
	}
	if v.hostBlocked(host) {
		return false
	}
	for _, entry := range scopes {
		if matchEntry(entry, host) {
			return true
		}
	}
	return false
}

// normalizeTarget reduces a target (host, URL, IP, or CIDR) to the host
// or prefix string that scope entries are matched against. Returns
// ok=false for anything it cannot parse.
func normalizeTarget(target string) (string, bool) {
	t := strings.TrimSpace(strings.ToLower(target))
	if t == "" {
		return "", false
	}
	if strings.Contains(t, "://") {
		u, err := url.Parse(t)
		if err != nil || u.Hostname() == "" {
			return "", false
		}
		t = u.Hostname()
	}
	// Bare CIDR targets are allowed; validity checked here, containment
	// during matching.
	if strings.Contains(t, "/") {
		if _, err := netip.ParsePrefix(t); err != nil {
			return "", false
		}
		return t, true
	}
	if _, err := netip.ParseAddr(t); err == nil {
		return t, true
	}
	if !validHostname(t) {
		return "", false
	}
	return t, true
}

func validHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			case r == '-' && i != 0 && i != len(label)-1:
			default:
				return false
			}
		}
	}
	return true
}

func (v *Validator) hostBlocked(host string) bool {
	if blockedHosts[host] {
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return v.addrBlocked(addr)
	}
	if pfx, err := netip.ParsePrefix(host); err == nil {
		return v.addrBlocked(pfx.Addr())
	}
	return false
}

func (v *Validator) addrBlocked(addr netip.Addr) bool {
	// IPv4-mapped IPv6 literals ("::ffff:127.0.0.1") must hit the IPv4
	// deny entries.
	addr = addr.Unmap()
	for _, b := range v.blocked {
		if b.Contains(addr) {
			return true
		}
	}
	return false
}

// matchEntry reports whether one scope entry authorizes the normalized host.
func matchEntry(entry, host string) bool {
	e := strings.TrimSpace(strings.ToLower(entry))
	if e == "" {
		return false
	}

	// CIDR scope entry: target must be an address inside the range, or a
	// narrower range fully contained in it.
	if pfx, err := netip.ParsePrefix(e); err == nil {
		if addr, err := netip.ParseAddr(host); err == nil {
			return pfx.Contains(addr)
		}
		if sub, err := netip.ParsePrefix(host); err == nil {
			return pfx.Overlaps(sub) && sub.Bits() >= pfx.Bits() && pfx.Contains(sub.Addr())
		}
		return false
	}

	// Domain suffix wildcard: "*.example.com" covers example.com and
	// every subdomain, never example.org.
	if base, ok := strings.CutPrefix(e, "*."); ok {
		if !validHostname(base) {
			return false
		}
		return host == base || strings.HasSuffix(host, "."+base)
	}

	// Exact match (host or single address).
	return e == host
}
