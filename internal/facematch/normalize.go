package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeGroupTag canonicalizes a section tag so "cse 3a", "CSE-3A" and
// " Cse-3a " all select the same candidate set.
func NormalizeGroupTag(tag string) string {
	tag = norm.NFKC.String(strings.TrimSpace(tag))
	tag = RemoveDiacritics(tag)
	tag = strings.Join(strings.Fields(tag), "-")
	return cases.Upper(language.Und).String(tag)
}

// NormalizeUID trims and upper-cases an external identifier (roll number).
func NormalizeUID(uid string) string {
	return cases.Upper(language.Und).String(norm.NFKC.String(strings.TrimSpace(uid)))
}

// NormalizeDisplayName collapses runs of whitespace in a display name.
func NormalizeDisplayName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
