package normalize

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed countries.yaml
var countriesYAML []byte

// countryIndex maps a compacted spelling to its ISO alpha-2 code.
var countryIndex = mustLoadCountries(countriesYAML)

func mustLoadCountries(data []byte) map[string]string {
	index, err := loadCountries(data)
	if err != nil {
		panic(fmt.Sprintf("normalize: invalid embedded country table: %v", err))
	}
	return index
}

func loadCountries(data []byte) (map[string]string, error) {
	var table map[string][]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	index := make(map[string]string, len(table)*4)
	for code, aliases := range table {
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(code) != 2 {
			return nil, fmt.Errorf("country code %q is not alpha-2", code)
		}
		index[Compact(code)] = code
		for _, alias := range aliases {
			key := Compact(alias)
			if existing, ok := index[key]; ok && existing != code {
				return nil, fmt.Errorf("alias %q maps to both %s and %s", alias, existing, code)
			}
			index[key] = code
		}
	}
	return index, nil
}

// NormalizeCountry maps free-text or ISO-variant country input to an ISO alpha-2 code.
// Unrecognized input is returned trimmed but otherwise unchanged; callers treat a
// non-canonical value as a data-quality warning, not an error.
func NormalizeCountry(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if code, ok := countryIndex[Compact(trimmed)]; ok {
		return code
	}
	return trimmed
}

// IsCanonicalCountry reports whether code is one of the known ISO codes.
func IsCanonicalCountry(code string) bool {
	if len(code) != 2 {
		return false
	}
	c, ok := countryIndex[Compact(code)]
	return ok && c == code
}
