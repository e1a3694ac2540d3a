package policy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// IdentityHeader is the header carrying the caller's claimed identity,
// forwarded by whatever reverse proxy authenticates the caller.
const IdentityHeader = "X-Gateway-Identity"

// ResolveHost returns the effective host for a request: Forwarded/
// X-Forwarded-Host is trusted only when trustForwarded is set (the gateway
// sits behind a known proxy), taking the first comma-separated element,
// stripping any port, and lowercasing — per spec.md §4.4.
func ResolveHost(r *http.Request, trustForwarded bool) string {
	host := r.Host
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		} else if fwd := r.Header.Get("Forwarded"); fwd != "" {
			if h := parseForwardedHost(fwd); h != "" {
				host = h
			}
		}
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(host)
}

func parseForwardedHost(header string) string {
	first := strings.SplitN(header, ",", 2)[0]
	for _, part := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "host") {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// isInferenceOrRawDBPath reports whether path is an inference or raw /api/db
// path, where index_db/user_data_db parameters are stripped entirely
// rather than rewritten (spec.md §4.4).
func isInferenceOrRawDBPath(path string) bool {
	return strings.HasPrefix(path, "/api/infer") || path == "/api/db"
}

// Decision is the outcome of applying a policy to one request's db
// parameters.
type Decision struct {
	Forbidden bool
	Reason    string
	// Rewritten holds the param name -> resolved value to set on the
	// outgoing request (inject, passthrough and rewrite cases alike); empty
	// when the parameter should be stripped (inference paths).
	Rewritten map[string]string
}

// ApplyDBParams implements spec.md §4.4's inject/passthrough/rewrite/403
// decision table for a single non-create API request. identity is the
// already-sanitized caller identity (see ExtractIdentity).
func ApplyDBParams(p Policy, path, identity string, params url.Values) Decision {
	if isInferenceOrRawDBPath(path) {
		return Decision{Rewritten: map[string]string{}}
	}

	result := map[string]string{}
	for _, field := range []struct {
		param      string
		isUserData bool
	}{
		{"index_db", false},
		{"user_data_db", true},
	} {
		value := params.Get(field.param)
		resolved, dec := resolveOneDBParam(p, identity, value, field.isUserData)
		if dec.Forbidden {
			return dec
		}
		result[field.param] = resolved
	}
	return Decision{Rewritten: result}
}

func resolveOneDBParam(p Policy, identity, value string, isUserData bool) (string, Decision) {
	if value == "" {
		return TenantDefault(p, identity, isUserData), Decision{}
	}
	if !SafeIdentifier(value) {
		return "", Decision{Forbidden: true, Reason: "db parameter is not a safe identifier"}
	}
	for _, allowed := range p.AllowedDBs {
		if value == allowed {
			return value, Decision{}
		}
	}
	if prefix := RenderedPrefix(p, identity); prefix != "" {
		return prefix + value, Decision{}
	}
	return "", Decision{Forbidden: true, Reason: "db parameter not permitted by policy"}
}

// ApplyCreateDBParams applies the same logic as ApplyDBParams to the
// new_index_db/new_user_data_db parameters /api/db/create uses.
func ApplyCreateDBParams(p Policy, identity string, params url.Values) Decision {
	result := map[string]string{}
	for _, field := range []struct {
		param      string
		isUserData bool
	}{
		{"new_index_db", false},
		{"new_user_data_db", true},
	} {
		value := params.Get(field.param)
		resolved, dec := resolveOneDBParam(p, identity, value, field.isUserData)
		if dec.Forbidden {
			return dec
		}
		result[field.param] = resolved
	}
	return Decision{Rewritten: result}
}

// dbListResponse mirrors the /api/db response body shape spec.md §4.4
// describes: "current" plus an "all" list.
type dbListResponse struct {
	Current string   `json:"current"`
	All     []string `json:"all"`
}

// RewriteDBListResponse filters and rewrites an /api/db response so a
// tenant only ever sees its own database names: "current" is replaced
// with the tenant default if missing, and "all" is filtered down to
// entries in the allowlist or matching the tenant prefix (with the prefix
// stripped before returning), per spec.md's "Tenant isolation" property.
func RewriteDBListResponse(p Policy, identity string, body []byte) ([]byte, error) {
	var resp dbListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeInvalidInput, err)
	}

	tenantDefault := TenantDefault(p, identity, false)
	if resp.Current == "" {
		resp.Current = tenantDefault
	}

	prefix := RenderedPrefix(p, identity)
	filtered := make([]string, 0, len(resp.All))
	for _, name := range resp.All {
		if containsString(p.AllowedDBs, name) {
			filtered = append(filtered, name)
			continue
		}
		if prefix != "" && strings.HasPrefix(name, prefix) {
			filtered = append(filtered, strings.TrimPrefix(name, prefix))
		}
	}
	if !containsString(filtered, tenantDefault) {
		filtered = append([]string{tenantDefault}, filtered...)
	}
	resp.All = filtered

	return json.Marshal(resp)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ValidHeaderValue rejects control characters in a raw header value
// before ExtractIdentity's safe-identifier regex ever runs, via
// golang.org/x/net/http/httpguts — the same validation net/http's own
// server uses internally for header values.
func ValidHeaderValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}
