// Package redact masks personal data before message text reaches logs.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// PII replaces emails, card numbers and phone numbers with markers and
// reports whether anything was replaced.
func PII(input string) (string, bool) {
	out := emailPattern.ReplaceAllString(input, "[email]")
	// Cards go before phones; a card number also matches the phone pattern.
	out = cardPattern.ReplaceAllString(out, "[card]")
	out = phonePattern.ReplaceAllString(out, "[phone]")
	return out, out != input
}

// Preview returns a redacted, single-line prefix of text at most max runes long.
func Preview(text string, max int) string {
	out, _ := PII(strings.Join(strings.Fields(text), " "))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}
