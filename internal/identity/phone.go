// Package identity holds the pure addressing helpers: phone normalization and
// client-id derivation. Nothing here keeps state or returns errors.
package identity

import (
	"regexp"
	"strings"
)

var (
	phoneJunkRE  = regexp.MustCompile(`[^\d+]`)
	nonDigitRE   = regexp.MustCompile(`\D`)
	dialableRE   = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	defaultNANPA = "+1"
)

// ValidatePhone normalizes raw into E.164 form. The second return is false
// when raw is empty or cannot be made dialable.
//
//   - a leading '+' keeps the digits as-is
//   - 10 bare digits are treated as North American and get "+1"
//   - 11 to 15 bare digits get "+"
//
// Anything else is rejected.
func ValidatePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	cleaned := phoneJunkRE.ReplaceAllString(raw, "")
	digits := nonDigitRE.ReplaceAllString(cleaned, "")

	var normalized string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		normalized = "+" + digits
	case len(digits) == 10:
		normalized = defaultNANPA + digits
	case len(digits) >= 11 && len(digits) <= 15:
		normalized = "+" + digits
	default:
		return "", false
	}

	if !dialableRE.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
