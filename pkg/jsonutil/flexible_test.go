package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"Base Salary"`),
			want:  "Base Salary",
		},
		{
			name:  "string with padding",
			input: json.RawMessage(`"  Gender "`),
			want:  "Gender",
		},
		{
			name:  "integer header",
			input: json.RawMessage(`2024`),
			want:  "2024",
		},
		{
			name:  "decimal header",
			input: json.RawMessage(`3.5`),
			want:  "3.5",
		},
		{
			name:  "single element array",
			input: json.RawMessage(`["Emp ID"]`),
			want:  "Emp ID",
		},
		{
			name:  "array skips empty entries",
			input: json.RawMessage(`[null, "", "Ctry"]`),
			want:  "Ctry",
		},
		{
			name:  "empty array",
			input: json.RawMessage(`[]`),
			want:  "",
		},
		{
			name:  "object with column key",
			input: json.RawMessage(`{"column": "Lvl", "confidence": 0.9}`),
			want:  "Lvl",
		},
		{
			name:  "object without known key",
			input: json.RawMessage(`{"confidence": 0.9}`),
			want:  "",
		},
		{
			name:  "boolean",
			input: json.RawMessage(`true`),
			want:  "",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "empty input",
			input: nil,
			want:  "",
		},
		{
			name:  "malformed string",
			input: json.RawMessage(`"unterminated`),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlexibleStringValue(tt.input); got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFlexibleStringValue_InMappingObject(t *testing.T) {
	var resp struct {
		Mapping map[string]json.RawMessage `json:"mapping"`
	}
	body := `{"mapping": {"employeeId": "Emp ID", "level": ["Lvl"], "gender": null, "country": {"column": "Ctry"}}}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]string{"employeeId": "Emp ID", "level": "Lvl", "gender": "", "country": "Ctry"}
	for field, expected := range want {
		if got := FlexibleStringValue(resp.Mapping[field]); got != expected {
			t.Errorf("%s: got %q, want %q", field, got, expected)
		}
	}
}
