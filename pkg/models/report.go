package models

import (
	"time"

	"github.com/google/uuid"
)

// NarrativeReport is a persisted prose summary of a completed risk run.
type NarrativeReport struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	RunID       uuid.UUID `json:"run_id"`
	Summary     string    `json:"summary"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AuditEvent is a fire-and-forget record of something that happened.
type AuditEvent struct {
	OrgID      uuid.UUID      `json:"org_id"`
	Actor      string         `json:"actor,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Audit actions.
const (
	AuditActionImportUploaded  = "import.uploaded"
	AuditActionMappingConfirm  = "import.mapping_confirmed"
	AuditActionImportCompleted = "import.completed"
	AuditActionImportFailed    = "import.failed"
	AuditActionRiskRunStarted  = "risk_run.started"
	AuditActionReportGenerated = "report.generated"
)
