package models

import (
	"time"

	"github.com/google/uuid"
)

// EmployeeAttributes are the canonical, import-sourced attributes of an employee.
// Every import fully overwrites them ("last import wins").
type EmployeeAttributes struct {
	ExternalID        string     `json:"external_id"`
	RoleTitle         string     `json:"role_title"`
	JobFamily         *string    `json:"job_family,omitempty"`
	Level             string     `json:"level"`
	Country           string     `json:"country"`
	Location          *string    `json:"location,omitempty"`
	Currency          string     `json:"currency"`
	BaseSalary        float64    `json:"base_salary"`
	BonusTarget       *float64   `json:"bonus_target,omitempty"`
	LTITarget         *float64   `json:"lti_target,omitempty"`
	HireDate          *time.Time `json:"hire_date,omitempty"`
	EmploymentType    *string    `json:"employment_type,omitempty"`
	Gender            *string    `json:"gender,omitempty"`
	PerformanceRating *string    `json:"performance_rating,omitempty"`
}

// EmployeeRecord is the current canonical employee, unique per (OrgID, ExternalID).
type EmployeeRecord struct {
	ID    uuid.UUID `json:"id"`
	OrgID uuid.UUID `json:"org_id"`
	EmployeeAttributes
	LastImportID *uuid.UUID `json:"last_import_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EmployeeSnapshot is an immutable copy of an employee's attributes captured by one import.
type EmployeeSnapshot struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	EmployeeID  uuid.UUID `json:"employee_id"`
	ImportJobID uuid.UUID `json:"import_job_id"`
	EmployeeAttributes
	CapturedAt time.Time `json:"captured_at"`
}

// CompensationRow is the projection the risk engine loads: only what grouping needs.
type CompensationRow struct {
	BaseSalary float64
	Gender     *string
	Country    string
	JobFamily  *string
	Level      string
	RoleTitle  string
}
