// Package jsonutil decodes loosely-typed JSON produced by text-generation models.
package jsonutil

import (
	"encoding/json"
	"strconv"
	"strings"
)

// columnObjectKeys are the keys checked, in order, when a model wraps a
// column name in an object such as {"column": "Base Pay"}.
var columnObjectKeys = []string{"column", "header", "name", "value"}

// FlexibleStringValue extracts a column name from a mapping value. Models
// answer with a plain string most of the time, but also with numbers (for
// headers like "2024"), single-element arrays, or small objects. Returns ""
// for null, empty input, empty arrays and shapes it does not recognise.
func FlexibleStringValue(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return ""
		}
		for _, item := range items {
			if s := FlexibleStringValue(item); s != "" {
				return s
			}
		}
		return ""

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		for _, key := range columnObjectKeys {
			if v, ok := obj[key]; ok {
				return FlexibleStringValue(v)
			}
		}
		return ""

	case 't', 'f':
		// A boolean is never a column name.
		return ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return n.String()
}
