// Package domains extracts email domains and checks whether a domain can receive mail.
package domains

import (
	"regexp"
	"strings"
)

// Accepts anything with exactly one "@" and no whitespace on either side. A dot is not required.
var emailPattern = regexp.MustCompile(`^[^\s@]+@([^\s@]+)$`)

// ExtractDomain returns the lowercased domain of email, or false when email is not shaped like local@domain.
func ExtractDomain(email string) (string, bool) {
	m := emailPattern.FindStringSubmatch(strings.TrimSpace(email))
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeDomain turns a website or bare domain into a lowercase host without scheme, www. prefix, port or path.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}
