package models

import (
	"encoding/json"
	"fmt"
)

// Canonical employee fields a source column can be mapped to.
const (
	FieldEmployeeID        = "employeeId"
	FieldRoleTitle         = "roleTitle"
	FieldJobFamily         = "jobFamily"
	FieldLevel             = "level"
	FieldCountry           = "country"
	FieldLocation          = "location"
	FieldCurrency          = "currency"
	FieldBaseSalary        = "baseSalary"
	FieldPayPeriod         = "payPeriod"
	FieldBonusTarget       = "bonusTarget"
	FieldLTITarget         = "ltiTarget"
	FieldHireDate          = "hireDate"
	FieldEmploymentType    = "employmentType"
	FieldGender            = "gender"
	FieldPerformanceRating = "performanceRating"
)

// CanonicalFields lists every canonical field in a stable order.
// Resolution, prompts and JSON output all iterate in this order.
var CanonicalFields = []string{
	FieldEmployeeID,
	FieldRoleTitle,
	FieldJobFamily,
	FieldLevel,
	FieldCountry,
	FieldLocation,
	FieldCurrency,
	FieldBaseSalary,
	FieldPayPeriod,
	FieldBonusTarget,
	FieldLTITarget,
	FieldHireDate,
	FieldEmploymentType,
	FieldGender,
	FieldPerformanceRating,
}

// RequiredFields must be present on every imported row.
var RequiredFields = []string{
	FieldEmployeeID,
	FieldRoleTitle,
	FieldLevel,
	FieldCountry,
	FieldCurrency,
	FieldBaseSalary,
}

// FieldDescriptions are sent to the text-generation assist so it knows what each field means.
var FieldDescriptions = map[string]string{
	FieldEmployeeID:        "Unique employee identifier within the organization (employee number, staff id)",
	FieldRoleTitle:         "Job title or role name",
	FieldJobFamily:         "Job family, function or department grouping (e.g. Engineering, Sales)",
	FieldLevel:             "Job level, grade or band",
	FieldCountry:           "Country of employment",
	FieldLocation:          "Office, city or work location",
	FieldCurrency:          "Currency of the salary amount (ISO code)",
	FieldBaseSalary:        "Base salary amount",
	FieldPayPeriod:         "Period the base salary is expressed in (annual, monthly, weekly, daily, hourly)",
	FieldBonusTarget:       "Target bonus amount or percentage",
	FieldLTITarget:         "Long-term incentive target (equity, LTI)",
	FieldHireDate:          "Hire or start date",
	FieldEmploymentType:    "Employment type (full-time, part-time, contractor)",
	FieldGender:            "Gender",
	FieldPerformanceRating: "Most recent performance rating",
}

// IsCanonicalField reports whether name is a known canonical field.
func IsCanonicalField(name string) bool {
	_, ok := FieldDescriptions[name]
	return ok
}

// IsRequiredField reports whether the canonical field is required for import.
func IsRequiredField(name string) bool {
	for _, f := range RequiredFields {
		if f == name {
			return true
		}
	}
	return false
}

// ColumnMapping maps canonical field name to source column name.
// A missing key (or empty value) means the field is unmapped.
// Two fields may point at the same column; uniqueness is left to the caller.
type ColumnMapping map[string]string

// Column returns the mapped source column and whether the field is mapped.
func (m ColumnMapping) Column(field string) (string, bool) {
	col, ok := m[field]
	if !ok || col == "" {
		return "", false
	}
	return col, true
}

// MarshalJSON renders every canonical field, with null for unmapped ones.
func (m ColumnMapping) MarshalJSON() ([]byte, error) {
	out := make(map[string]*string, len(CanonicalFields))
	for _, f := range CanonicalFields {
		if col, ok := m.Column(f); ok {
			c := col
			out[f] = &c
		} else {
			out[f] = nil
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts null or string values and ignores unknown fields.
func (m *ColumnMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode column mapping: %w", err)
	}
	out := make(ColumnMapping, len(raw))
	for field, col := range raw {
		if !IsCanonicalField(field) || col == nil || *col == "" {
			continue
		}
		out[field] = *col
	}
	*m = out
	return nil
}

// Confidence maps canonical field name to a score in [0,1].
type Confidence map[string]float64

// MappingSource says which resolution path produced a mapping.
type MappingSource string

const (
	MappingSourceAI            MappingSource = "ai"
	MappingSourceDeterministic MappingSource = "deterministic"
)

// MappingResult is the resolver output. Source is the tag callers branch on;
// a result is wholly heuristic or wholly assisted, never a merge of both.
type MappingResult struct {
	Source     MappingSource `json:"mappingSource"`
	Mapping    ColumnMapping `json:"suggestedMapping"`
	Confidence Confidence    `json:"confidence"`
}
