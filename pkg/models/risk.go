package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskRunStatus is the lifecycle state of a risk run.
type RiskRunStatus string

const (
	RiskRunStatusRunning   RiskRunStatus = "RUNNING"
	RiskRunStatusCompleted RiskRunStatus = "COMPLETED"
	RiskRunStatusFailed    RiskRunStatus = "FAILED"
)

// IsTerminal reports whether the run has finished.
func (s RiskRunStatus) IsTerminal() bool {
	return s == RiskRunStatusCompleted || s == RiskRunStatusFailed
}

// Risk run trigger sources.
const (
	RiskTriggerImport   = "import"
	RiskTriggerOnDemand = "on_demand"
)

// RiskState classifies a comparator group's gap.
type RiskState string

const (
	RiskWithinExpectedRange RiskState = "WITHIN_EXPECTED_RANGE"
	RiskRequiresReview      RiskState = "REQUIRES_REVIEW"
	RiskThresholdAlert      RiskState = "THRESHOLD_ALERT"
)

// Group result notes.
const (
	NoteInsufficientData = "insufficient data"
	NoteLowSampleSize    = "low sample size"
)

// RiskRun is one execution of the risk computation for an organization.
type RiskRun struct {
	ID           uuid.UUID     `json:"id"`
	OrgID        uuid.UUID     `json:"org_id"`
	Trigger      string        `json:"trigger"`
	Status       RiskRunStatus `json:"status"`
	ImportJobID  *uuid.UUID    `json:"import_job_id,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// ComparatorGroupKey identifies a comparator group. When JobFamily is absent the
// group is keyed on RoleTitle instead and UsesRoleFallback is set.
type ComparatorGroupKey struct {
	Country          string
	JobFamily        string
	Level            string
	RoleTitle        string
	UsesRoleFallback bool
}

// String renders the key as persisted in group_key.
func (k ComparatorGroupKey) String() string {
	if k.UsesRoleFallback {
		return k.Country + "|" + k.Level + "|role:" + k.RoleTitle
	}
	return k.Country + "|" + k.JobFamily + "|" + k.Level
}

// ComparatorGroupResult is one group's computed gap within a run. Written once, never updated.
type ComparatorGroupResult struct {
	ID               uuid.UUID `json:"id"`
	RunID            uuid.UUID `json:"run_id"`
	OrgID            uuid.UUID `json:"org_id"`
	GroupKey         string    `json:"group_key"`
	Country          string    `json:"country"`
	JobFamily        *string   `json:"job_family,omitempty"`
	Level            string    `json:"level"`
	RoleTitle        *string   `json:"role_title,omitempty"`
	UsesRoleFallback bool      `json:"uses_role_fallback"`
	WomenCount       int       `json:"women_count"`
	MenCount         int       `json:"men_count"`
	GapPct           float64   `json:"gap_pct"`
	RiskState        RiskState `json:"risk_state"`
	Note             *string   `json:"note,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
}

// RiskRunView is a run plus its groups; Groups is only populated when the run COMPLETED.
type RiskRunView struct {
	Run    *RiskRun                 `json:"run"`
	Groups []*ComparatorGroupResult `json:"groups"`
}
