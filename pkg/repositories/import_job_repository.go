package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// ImportJobRepository provides data access for import jobs.
type ImportJobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)

	// StartProcessing stores the confirmed mapping and moves the job from
	// PENDING_MAPPING to PROCESSING. Any other current status is ErrInvalidState.
	StartProcessing(ctx context.Context, id uuid.UUID, mapping models.ColumnMapping) error
	UpdateCounts(ctx context.Context, id uuid.UUID, counts models.ImportCounts) error

	// Complete and Fail are terminal; once either has been applied both return ErrInvalidState.
	Complete(ctx context.Context, id uuid.UUID, counts models.ImportCounts, rowErrors []models.RowError) error
	Fail(ctx context.Context, id uuid.UUID, counts models.ImportCounts, message string) error
}

type importJobRepository struct{}

// NewImportJobRepository creates a new ImportJobRepository.
func NewImportJobRepository() ImportJobRepository {
	return &importJobRepository{}
}

var _ ImportJobRepository = (*importJobRepository)(nil)

const importJobColumns = `
	id, org_id, uploaded_by, file_name, file_path, file_format, status, row_count,
	detected_columns, column_mapping, mapping_source, confidence,
	created_count, updated_count, error_count, row_errors, error_message,
	created_at, updated_at, completed_at`

func (r *importJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.ImportStatusPendingMapping
	}

	columnsJSON, err := json.Marshal(nonNilStrings(job.DetectedColumns))
	if err != nil {
		return fmt.Errorf("failed to marshal detected columns: %w", err)
	}
	mappingJSON, err := marshalOptional(job.ColumnMapping, len(job.ColumnMapping) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal column mapping: %w", err)
	}
	confidenceJSON, err := marshalOptional(job.Confidence, len(job.Confidence) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal confidence: %w", err)
	}

	query := `
		INSERT INTO paygap_import_jobs (
			id, org_id, uploaded_by, file_name, file_path, file_format, status, row_count,
			detected_columns, column_mapping, mapping_source, confidence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = scope.Conn.Exec(ctx, query,
		job.ID, job.OrgID, job.UploadedBy, job.FileName, job.FilePath, string(job.FileFormat),
		string(job.Status), job.RowCount, columnsJSON, mappingJSON, nullableString(string(job.MappingSource)),
		confidenceJSON, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}

	return nil
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + importJobColumns + ` FROM paygap_import_jobs WHERE id = $1`

	job, err := scanImportJob(scope.Conn.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}

	return job, nil
}

func (r *importJobRepository) StartProcessing(ctx context.Context, id uuid.UUID, mapping models.ColumnMapping) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal column mapping: %w", err)
	}

	query := `
		UPDATE paygap_import_jobs
		SET status = 'PROCESSING', column_mapping = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING_MAPPING'`

	tag, err := scope.Conn.Exec(ctx, query, id, mappingJSON)
	if err != nil {
		return fmt.Errorf("failed to start import processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}

	return nil
}

func (r *importJobRepository) UpdateCounts(ctx context.Context, id uuid.UUID, counts models.ImportCounts) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE paygap_import_jobs
		SET created_count = $2, updated_count = $3, error_count = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`

	if _, err := scope.Conn.Exec(ctx, query, id, counts.Created, counts.Updated, counts.Errors); err != nil {
		return fmt.Errorf("failed to update import counts: %w", err)
	}

	return nil
}

func (r *importJobRepository) Complete(ctx context.Context, id uuid.UUID, counts models.ImportCounts, rowErrors []models.RowError) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if rowErrors == nil {
		rowErrors = []models.RowError{}
	}
	errorsJSON, err := json.Marshal(rowErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal row errors: %w", err)
	}

	query := `
		UPDATE paygap_import_jobs
		SET status = 'COMPLETED', created_count = $2, updated_count = $3, error_count = $4,
		    row_errors = $5, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`

	tag, err := scope.Conn.Exec(ctx, query, id, counts.Created, counts.Updated, counts.Errors, errorsJSON)
	if err != nil {
		return fmt.Errorf("failed to complete import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}

	return nil
}

func (r *importJobRepository) Fail(ctx context.Context, id uuid.UUID, counts models.ImportCounts, message string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE paygap_import_jobs
		SET status = 'FAILED', created_count = $2, updated_count = $3, error_count = $4,
		    error_message = $5, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`

	tag, err := scope.Conn.Exec(ctx, query, id, counts.Created, counts.Updated, counts.Errors, message)
	if err != nil {
		return fmt.Errorf("failed to mark import job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}

	return nil
}

// missingOrInvalid distinguishes a guarded update that matched nothing because
// the job does not exist from one rejected by the status guard.
func (r *importJobRepository) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	scope, _ := database.GetTenantScope(ctx)

	var exists bool
	err := scope.Conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM paygap_import_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check import job: %w", err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrInvalidState
}

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	var format, status string
	var mappingSource *string
	var columnsJSON, mappingJSON, confidenceJSON, errorsJSON []byte

	err := row.Scan(
		&job.ID, &job.OrgID, &job.UploadedBy, &job.FileName, &job.FilePath, &format, &status, &job.RowCount,
		&columnsJSON, &mappingJSON, &mappingSource, &confidenceJSON,
		&job.CreatedCount, &job.UpdatedCount, &job.ErrorCount, &errorsJSON, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.FileFormat = models.FileFormat(format)
	job.Status = models.ImportStatus(status)
	if mappingSource != nil {
		job.MappingSource = models.MappingSource(*mappingSource)
	}

	if err := unmarshalOptional(columnsJSON, &job.DetectedColumns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal detected columns: %w", err)
	}
	if err := unmarshalOptional(mappingJSON, &job.ColumnMapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal column mapping: %w", err)
	}
	if err := unmarshalOptional(confidenceJSON, &job.Confidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confidence: %w", err)
	}
	if err := unmarshalOptional(errorsJSON, &job.RowErrors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row errors: %w", err)
	}

	return &job, nil
}
