// Package policy scrubs user text and upstream error bodies before they are
// written to logs.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: keys before cards, cards before phone numbers.
var rules = []rule{
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{16,}`), "Bearer [REDACTED_KEY]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks API keys and common PII. changed reports whether anything
// was replaced.
func Redact(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Preview redacts s and cuts it to at most max runes for a log line.
func Preview(s string, max int) string {
	out, _ := Redact(strings.Join(strings.Fields(s), " "))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}
