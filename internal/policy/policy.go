// Package policy implements the gateway's per-host tenant policy layer,
// spec.md §4.4: selecting a policy by request host, enforcing a ruleset
// allowlist on API paths, extracting and sanitizing caller identity, and
// rewriting/injecting/stripping the index_db/user_data_db parameters so a
// tenant can never reach another tenant's database. Grounded on the
// teacher's internal/daemon/protocol.go request-typing discipline (small
// explicit structs per concern, no map[string]any bags).
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// Ruleset is one allow-rule for an API path. AllowAll short-circuits
// Method/Path matching entirely.
type Ruleset struct {
	AllowAll bool
	Method   string
	Path     string
	Prefix   bool
}

// Policy is the full configuration selected for one resolved host.
type Policy struct {
	// Hosts lists patterns this policy applies to; "*" matches any host.
	// Policies are tried in order, so an earlier wildcard policy wins over
	// a later policy naming the host exactly.
	Hosts []string

	Rulesets []Ruleset

	// IndexDB/UserDataDB are the default database names injected when a
	// request supplies none.
	IndexDB     string
	UserDataDB  string

	// TenantPrefixTemplate, when set, must contain "{username}" (and must
	// NOT contain "{db}" — spec.md's safety invariant) and is used to
	// build a per-user rewrite/inject target:
	// strings.Replace(template, "{username}", identity, 1).
	TenantPrefixTemplate string

	// AllowedDBs is the passthrough allowlist: a caller-supplied db name
	// matching one of these is passed through unmodified.
	AllowedDBs []string
}

// identityHeaderMaxLen bounds the raw header value before validation, to
// keep the safe-identifier regex from doing unbounded work on a hostile
// request.
const identityHeaderMaxLen = 256

var safeIdentifierRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// SafeIdentifier reports whether s is safe to interpolate directly into a
// database file name or SQL identifier: bounded length, alphanumeric plus
// a small, unambiguous punctuation set. Anything else (path separators,
// quotes, whitespace, control characters) is rejected — spec.md §4.4's
// "safe-identifier check".
func SafeIdentifier(s string) bool {
	return safeIdentifierRe.MatchString(s)
}

// HashIdentity replaces an identity value that fails SafeIdentifier with a
// stable, safe fallback: the first 16 bytes of its SHA-256 hex digest.
// Stdlib crypto/sha256 needs no third-party justification here — the
// fallback value isn't a security boundary on its own, only a stable,
// collision-resistant-enough bucket key for an otherwise-unsafe input.
func HashIdentity(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// ExtractIdentity takes the raw identity header value (already validated
// by httpguts.ValidHeaderFieldValue at the HTTP boundary — see
// middleware.go), takes its first comma-separated token, trims it, and
// falls back to HashIdentity if the result isn't a SafeIdentifier.
func ExtractIdentity(headerValue string) string {
	if len(headerValue) > identityHeaderMaxLen {
		headerValue = headerValue[:identityHeaderMaxLen]
	}
	first := strings.TrimSpace(strings.SplitN(headerValue, ",", 2)[0])
	if first == "" {
		return HashIdentity(headerValue)
	}
	if SafeIdentifier(first) {
		return first
	}
	return HashIdentity(first)
}

// SelectPolicy returns the first policy whose Hosts contains host or "*",
// matching spec.md §4.4's "first policy whose hosts matches" selection
// rule. Absence of any match is a 403, signaled by ok=false.
func SelectPolicy(policies []Policy, host string) (Policy, bool) {
	host = strings.ToLower(host)
	for i := range policies {
		p := &policies[i]
		for _, h := range p.Hosts {
			if h == "*" || strings.ToLower(h) == host {
				return *p, true
			}
		}
	}
	return Policy{}, false
}

// AllowAPI reports whether method/path is permitted by p's ruleset.
func AllowAPI(p Policy, method, path string) bool {
	for _, r := range p.Rulesets {
		if r.AllowAll {
			return true
		}
		if !strings.EqualFold(r.Method, method) {
			continue
		}
		if r.Prefix {
			if strings.HasPrefix(path, r.Path) {
				return true
			}
			continue
		}
		if path == r.Path {
			return true
		}
	}
	return false
}

// ValidateTemplate enforces spec.md §4.4's template safety invariant: a
// tenant prefix template must name {username} and must never contain
// {db}, since {db} would let a caller-controlled value steer which
// database file gets opened instead of only which tenant subtree within
// the configured default.
func ValidateTemplate(template string) error {
	if strings.Contains(template, "{db}") {
		return gatewayerrors.New(gatewayerrors.ErrCodeIdentifierUnsafe,
			"tenant prefix template must not contain {db}", nil)
	}
	if !strings.Contains(template, "{username}") {
		return gatewayerrors.New(gatewayerrors.ErrCodeIdentifierUnsafe,
			"tenant prefix template must contain {username}", nil)
	}
	return nil
}

// RenderedPrefix substitutes identity into p's TenantPrefixTemplate, or
// returns "" if no template is configured.
func RenderedPrefix(p Policy, identity string) string {
	if p.TenantPrefixTemplate == "" || identity == "" {
		return ""
	}
	return strings.Replace(p.TenantPrefixTemplate, "{username}", identity, 1)
}

// TenantDefault is the value injected when a request supplies no
// index_db/user_data_db: the policy's own configured default name,
// unprefixed — spec.md's literal policy-rewrite scenario injects a plain
// "default" for the untouched parameter even under a tenant prefix
// template; only an explicitly-supplied, non-allowlisted value earns the
// prefix rewrite (see resolveOneDBParam).
func TenantDefault(p Policy, identity string, isUserData bool) string {
	if isUserData {
		return p.UserDataDB
	}
	return p.IndexDB
}
