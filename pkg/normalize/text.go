// Package normalize canonicalizes raw values read from compensation exports:
// country identifiers, locale-formatted amounts and pay-period annualization.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// StripDiacritics removes combining marks after NFD decomposition ("México" -> "Mexico").
func StripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Words lowercases s, strips diacritics and splits on anything that is not a letter or digit.
func Words(s string) []string {
	s = strings.ToLower(StripDiacritics(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Compact folds s to lowercase letters and digits only, so that
// "U.S.A.", "u s a" and "USA" all compare equal.
func Compact(s string) string {
	return strings.Join(Words(s), "")
}
