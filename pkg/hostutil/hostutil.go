// Package hostutil derives tenant routing facts from request host material.
// All functions are pure; resolution order and persistence live in the
// tenant resolver.
package hostutil

import (
	"regexp"
	"strings"
)

// reservedLabels are subdomain labels that never identify a tenant.
var reservedLabels = map[string]struct{}{
	"www":    {},
	"api":    {},
	"auth":   {},
	"admin":  {},
	"app":    {},
	"mail":   {},
	"static": {},
	"cdn":    {},
}

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSlug reports whether s is a well-formed tenant slug: lower-case
// alphanumeric with interior hyphens, usable as a DNS label.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Reserved reports whether label may never be claimed as a tenant slug.
func Reserved(label string) bool {
	_, ok := reservedLabels[strings.ToLower(label)]
	return ok
}

// NormalizeHost reduces a Host, Origin, or X-Forwarded-Host header value to a
// bare lower-case hostname. Forwarded headers may carry a comma-separated
// chain; only the first hop counts. Returns "" when nothing usable remains.
func NormalizeHost(raw string) string {
	if raw == "" {
		return ""
	}
	host := strings.TrimSpace(strings.Split(raw, ",")[0])
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	// Strip a port, but leave IPv6 literals alone.
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i >= 0 {
			host = host[:i+1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.Index(host, ":")]
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// ExtractSlugFromHost returns the leftmost label of host when host is a
// strict subdomain of baseDomain and the label is not reserved; "" otherwise.
func ExtractSlugFromHost(host, baseDomain string) string {
	host = NormalizeHost(host)
	baseDomain = NormalizeHost(baseDomain)
	if host == "" || baseDomain == "" || host == baseDomain {
		return ""
	}
	if !strings.HasSuffix(host, "."+baseDomain) {
		return ""
	}
	prefix := strings.TrimSuffix(host, "."+baseDomain)
	// Only a single label between the slug and the base domain counts;
	// deeper nesting is not a tenant subdomain.
	if strings.Contains(prefix, ".") {
		return ""
	}
	if Reserved(prefix) || !ValidSlug(prefix) {
		return ""
	}
	return prefix
}

// ApplySlugToHost prefixes "slug." onto fallbackHost's hostname when host is
// the bare fallback host. An unrelated host is never rewritten, and a host
// already carrying the slug is returned unchanged.
func ApplySlugToHost(host, fallbackHost, slug string) string {
	if slug == "" {
		return host
	}
	normalized := NormalizeHost(host)
	fallback := NormalizeHost(fallbackHost)
	if normalized == "" || fallback == "" {
		return host
	}
	if strings.HasPrefix(normalized, slug+".") {
		return host
	}
	if normalized != fallback {
		return host
	}
	return slug + "." + fallback
}

// DetermineProtocol picks the scheme for an outbound URL. forwardedProto is
// trusted only when it is exactly "http" or "https"; otherwise loopback-like
// hosts infer http and everything else https.
func DetermineProtocol(host, forwardedProto string) string {
	switch forwardedProto {
	case "http", "https":
		return forwardedProto
	}
	if IsLocalHost(host) {
		return "http"
	}
	return "https"
}

// IsLocalHost reports whether host looks like a local development address.
func IsLocalHost(host string) bool {
	host = NormalizeHost(host)
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]" ||
		strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}
