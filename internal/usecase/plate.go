package usecase

import (
	"strings"
	"unicode"
)

// NormalizePlate uppercases a registration and removes all whitespace so
// that "ab12 cde" and "AB12CDE" compare equal.
func NormalizePlate(registration string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, registration)
}
