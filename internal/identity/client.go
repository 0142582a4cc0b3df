package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	clientIDJunkRE = regexp.MustCompile(`[^a-z0-9]`)
	lower          = cases.Lower(language.Und)
)

// DeriveClientID builds the pseudonymous client key from name parts: the parts
// are joined in order, lowercased, and stripped of everything outside a-z0-9.
// Similar names may collide; that only coarsens dedupe.
func DeriveClientID(nameParts []string) string {
	merged := lower.String(strings.Join(nameParts, ""))
	merged = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, merged)
	return clientIDJunkRE.ReplaceAllString(merged, "")
}

// SplitName splits a full name on whitespace.
func SplitName(fullName string) []string {
	return strings.Fields(fullName)
}

// ClientIDFromName derives the client id from the first and last tokens of a
// full name, so middle names and initials do not change the key.
// "Jane Q. Example" yields "janeexample".
func ClientIDFromName(fullName string) string {
	parts := SplitName(fullName)
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return DeriveClientID(parts)
	default:
		return DeriveClientID([]string{parts[0], parts[len(parts)-1]})
	}
}

// RecipientToken is the salted pseudonym used in run findings instead of a
// name: the first 12 hex chars of sha256("salt|name|phone").
func RecipientToken(salt, fullName, phone string) string {
	sum := sha256.Sum256([]byte(salt + "|" + fullName + "|" + phone))
	return hex.EncodeToString(sum[:])[:12]
}
