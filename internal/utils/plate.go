package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate uppercases a plate string and strips separators so that
// "abc 1234" and "ABC-1234" compare equal.
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range plate {
		switch {
		case r == ' ' || r == '-' || r == '_' || r == '.':
			continue
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// PlateNumber composes the display plate number from its decomposed parts.
// Returns "UNKNOWN" when both parts are empty.
func PlateNumber(letters, numbers string) string {
	n := strings.TrimSpace(letters + " " + numbers)
	if n == "" {
		return "UNKNOWN"
	}
	return n
}
