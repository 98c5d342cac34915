// Package sanitize redacts credentials from free-form text.
//
// Every line of provider CLI output, every error message and every audit
// payload passes through this package before it leaves the process. The
// functions are pure and idempotent: Line(Line(x)) == Line(x).
package sanitize

import (
	"regexp"
	"strings"
)

// Mask replaces every redacted value.
const Mask = "***"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
	// replace, when set, rewrites each match instead of replacement.
	replace func(string) string
}

// rules are applied in order against the same string.
var rules = []rule{
	// Provider auth tokens: RAILWAY_TOKEN=abc
	{pattern: regexp.MustCompile(`\b([A-Z][A-Z0-9_]*_TOKEN)=\S+`), replacement: "${1}=" + Mask},
	// Bearer tokens
	{pattern: regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`), replacement: "Bearer " + Mask},
	// Connection strings with inline credentials
	{
		pattern:     regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|rediss|mysql|mongodb(?:\+srv)?|amqps?)://[^\s:@/]*:[^\s@]+@[^\s/?#"']+`),
		replacement: "${1}://" + Mask + ":" + Mask + "@" + Mask,
	},
	// CLI echoes of variable assignment; every KEY=value after the verb
	{
		pattern: regexp.MustCompile(`(?i)\bvariables?\s+(?:set|--set)(?:\s+(?:--set|[A-Za-z_][A-Za-z0-9_]*=\S+))+`),
		replace: func(m string) string {
			return assignment.ReplaceAllString(m, "${1}="+Mask)
		},
	},
	// Generic key/value fallback
	{
		pattern:     regexp.MustCompile(`(?i)(api_key|secret|password|token)"?\s*[=:]\s*"?[^\s,;&"']+`),
		replacement: "${1}=" + Mask,
	},
}

var assignment = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=\S+`)

var sensitiveKey = regexp.MustCompile(`(?i)(api_?key|secret|password|passwd|token|credential|private_?key|dsn|database_url)`)

// Line redacts secrets from a single line of text. Text without a recognised
// secret is returned unchanged.
func Line(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		if r.replace != nil {
			s = r.pattern.ReplaceAllStringFunc(s, r.replace)
			continue
		}
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Lines sanitizes each element and returns a new slice.
func Lines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = Line(l)
	}
	return out
}

// Text sanitizes multi-line text line by line.
func Text(s string) string {
	if s == "" {
		return s
	}
	parts := strings.Split(s, "\n")
	return strings.Join(Lines(parts), "\n")
}

// Error returns the sanitized message of err, or "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Text(err.Error())
}

// Map sanitizes metadata values. Values stored under credential-looking keys
// are masked outright.
func Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Mask
			continue
		}
		out[k] = Text(v)
	}
	return out
}

// IsSensitiveKey reports whether a metadata or variable key names a credential.
func IsSensitiveKey(key string) bool {
	return sensitiveKey.MatchString(key)
}
