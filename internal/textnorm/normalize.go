// Package textnorm normalizes free-text directory values such as educational
// levels and shifts so they can be compared across data entry styles.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Educación" -> "Educacion").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Key normalizes a value for comparison (lowercase, no diacritics, single spaces for dashes and underscores).
func Key(s string) string {
	s = RemoveDiacritics(s)
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Equal reports whether two values are the same after normalization.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}
