// Package sanitize redacts credentials from storage locations before they
// reach logs.
package sanitize

import (
	"net/url"
	"regexp"
)

type secretPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

var secretPatterns = []secretPattern{
	{
		// key=value connection strings: "password=hunter2 sslmode=disable"
		pattern:     regexp.MustCompile(`(?i)((?:password|token|secret)\s*=\s*)('[^']*'|\S+)`),
		replacement: `${1}[REDACTED]`,
	},
	{pattern: jwtPattern, replacement: "[REDACTED]"},
}

var jwtPattern = regexp.MustCompile(`ey[A-Za-z0-9_=-]+\.[A-Za-z0-9_=-]+\.[A-Za-z0-9_.+/=-]*`)

// Location redacts the secrets of a path, DSN or URL. URL passwords and
// token query parameters are replaced; other text is matched against known
// secret shapes. JWTs are redacted in both forms.
func Location(s string) string {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		if _, isSet := u.User.Password(); isSet {
			u.User = url.UserPassword(u.User.Username(), "[REDACTED]")
		}
		q := u.Query()
		for _, key := range []string{"password", "token"} {
			if q.Has(key) {
				q.Set(key, "[REDACTED]")
			}
		}
		u.RawQuery = q.Encode()
		return jwtPattern.ReplaceAllString(u.String(), "[REDACTED]")
	}
	for _, p := range secretPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
