// Package policy masks personal data before it reaches logs.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

const redactedName = "[REDACTED_NAME]"

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, or card numbers get classified as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactKnown masks literal values already known to be personal, such as a
// collected name, case-insensitively.
func RedactKnown(input string, values ...string) string {
	out := input
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) < 2 {
			continue
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(v))
		out = re.ReplaceAllString(out, redactedName)
	}
	return out
}

// Preview returns a redacted, length-capped rendering of a chat message for logs.
func Preview(message string, maxRunes int, known ...string) string {
	out, _ := RedactPII(RedactKnown(message, known...))
	out = strings.Join(strings.Fields(out), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "…"
}
