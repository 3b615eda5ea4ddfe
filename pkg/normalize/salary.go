package normalize

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// groupingRunes are always thousands separators, never decimal marks.
const groupingRunes = " '\u00a0\u202f"

// NormalizeSalary parses a locale-formatted amount such as "$1,234.50", "1.234,50 €",
// "CHF 98'000" or "(1,200)". It returns nil when no number can be read; it never panics.
//
// A lone '.' or ',' followed by exactly three digits is read as a thousands separator.
// When both appear, the right-most one is the decimal mark.
func NormalizeSalary(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	first := strings.IndexFunc(s, unicode.IsDigit)
	if first < 0 {
		return nil
	}
	if first > 0 && (s[first-1] == '.' || s[first-1] == ',') {
		first--
	}
	last := strings.LastIndexFunc(s, unicode.IsDigit)
	prefix, body, suffix := s[:first], s[first:last+1], s[last+1:]

	negative := strings.Contains(prefix, "-") ||
		(strings.Contains(prefix, "(") && strings.Contains(suffix, ")"))

	var digits strings.Builder
	digits.Grow(len(body))
	for _, r := range body {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			digits.WriteRune(r)
		case strings.ContainsRune(groupingRunes, r):
			// dropped
		default:
			return nil
		}
	}

	cleaned, ok := resolveSeparators(digits.String())
	if !ok {
		return nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	if negative {
		d = d.Neg()
	}
	v := d.InexactFloat64()
	return &v
}

// resolveSeparators rewrites a digits-and-separators string into plain "1234.5" form.
func resolveSeparators(s string) (string, bool) {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot < 0 && lastComma < 0:
		return s, true
	case lastDot >= 0 && lastComma >= 0:
		decimalMark, grouping := byte('.'), ","
		if lastComma > lastDot {
			decimalMark, grouping = ',', "."
		}
		intPart, frac, _ := strings.Cut(s, string(decimalMark))
		if strings.ContainsAny(frac, ".,") {
			return "", false
		}
		return strings.ReplaceAll(intPart, grouping, "") + "." + frac, true
	default:
		sep := ","
		if lastDot >= 0 {
			sep = "."
		}
		if strings.Count(s, sep) > 1 {
			return strings.ReplaceAll(s, sep, ""), true
		}
		intPart, frac, _ := strings.Cut(s, sep)
		if intPart == "" {
			return "0." + frac, true
		}
		if len(frac) == 3 {
			return intPart + frac, true
		}
		return intPart + "." + frac, true
	}
}
