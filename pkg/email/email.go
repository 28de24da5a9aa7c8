// Package email holds small helpers for working with promoter email
// addresses outside of validation (which lives in the step validators).
package email

import (
	"strings"
	"unicode"
)

// DeriveNameFromEmail guesses a first/last name pair from the local part of
// an address. Used to pre-fill the profile step after email verification;
// the promoter can always overwrite the guess.
func DeriveNameFromEmail(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}
	// Strip plus-tags: jane+school@... should derive from "jane".
	if plus := strings.IndexByte(localPart, '+'); plus > 0 {
		localPart = localPart[:plus]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return "", ""
	}

	first := capitalize(parts[0])
	last := ""
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}
	return first, last
}

// Mask obscures the local part of an address for logs and audit trails:
// "promoter@school.edu" becomes "p*******@school.edu".
func Mask(address string) string {
	at := strings.IndexByte(address, '@')
	if at <= 0 {
		return address
	}
	masked := address[:1] + strings.Repeat("*", at-1)
	return masked + address[at:]
}

// Normalize lower-cases and trims an address for comparison and storage.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
