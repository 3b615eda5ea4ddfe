package repositories

import (
	"encoding/json"
)

// nullableString returns nil for the empty string so it is stored as NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nonNilStrings keeps JSONB arrays from being stored as null.
func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// marshalOptional marshals v to JSONB, or returns nil (SQL NULL) when present is false.
func marshalOptional(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalOptional unmarshals JSONB data, leaving target untouched for NULL.
func unmarshalOptional(data []byte, target any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, target)
}
