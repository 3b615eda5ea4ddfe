package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the lifecycle state of an import job.
type ImportStatus string

const (
	ImportStatusPendingMapping ImportStatus = "PENDING_MAPPING"
	ImportStatusProcessing     ImportStatus = "PROCESSING"
	ImportStatusCompleted      ImportStatus = "COMPLETED"
	ImportStatusFailed         ImportStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// FileFormat identifies how an uploaded source file is decoded.
type FileFormat string

const (
	FileFormatCSV  FileFormat = "csv"
	FileFormatXLSX FileFormat = "xlsx"
)

// RowError is a non-fatal, per-row import problem. Row is 1-indexed, header excluded.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ImportJob tracks one uploaded file through mapping and execution.
type ImportJob struct {
	ID              uuid.UUID     `json:"id"`
	OrgID           uuid.UUID     `json:"org_id"`
	UploadedBy      string        `json:"uploaded_by"`
	FileName        string        `json:"file_name"`
	FilePath        string        `json:"-"`
	FileFormat      FileFormat    `json:"file_format"`
	Status          ImportStatus  `json:"status"`
	RowCount        int           `json:"row_count"`
	DetectedColumns []string      `json:"detected_columns"`
	ColumnMapping   ColumnMapping `json:"column_mapping,omitempty"`
	MappingSource   MappingSource `json:"mapping_source,omitempty"`
	Confidence      Confidence    `json:"confidence,omitempty"`
	CreatedCount    int           `json:"created_count"`
	UpdatedCount    int           `json:"updated_count"`
	ErrorCount      int           `json:"error_count"`
	RowErrors       []RowError    `json:"row_errors,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// ImportCounts is the running tally an executor persists.
type ImportCounts struct {
	Created int
	Updated int
	Errors  int
}
