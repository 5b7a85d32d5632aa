// Package policyshield implements the Policy Store: the authoritative
// blocklist/allowance/lockout document, domain normalization, and the
// category and delay-progression tables that seed and drive it.
package policyshield

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
)

// Canonicalize reduces a caller-supplied domain string to its canonical
// form: lower-case, no scheme, no trailing dot, leading "www." stripped,
// IDN-folded to ASCII. A scheme prefix, path, query and port are stripped,
// not rejected; an error is returned for empty input, whitespace inside the
// value, or a result with no dot.
func Canonicalize(raw string) (string, error) {
	d := strings.TrimSpace(raw)
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}
	if strings.ContainsAny(d, " \t\n") {
		return "", fmt.Errorf("domain contains whitespace: %q", raw)
	}
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.ToLower(d)
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")

	ascii, err := idnaProfile.ToASCII(d)
	if err == nil && ascii != "" {
		d = ascii
	}

	if !strings.Contains(d, ".") {
		return "", fmt.Errorf("domain has no dot: %q", raw)
	}
	return d, nil
}

// Matches reports whether query q matches stored pattern p: exact match or
// subdomain-inclusive (q ends with "."+p).
func Matches(p, q string) bool {
	if q == p {
		return true
	}
	return strings.HasSuffix(q, "."+p)
}

// MatchesAny reports whether q matches any pattern in patterns.
func MatchesAny(patterns []string, q string) bool {
	for _, p := range patterns {
		if Matches(p, q) {
			return true
		}
	}
	return false
}
