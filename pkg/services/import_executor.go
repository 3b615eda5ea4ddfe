package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
	"github.com/ekaya-inc/paygap-engine/pkg/tabular"
)

// progressInterval is how many rows are processed between persisted count updates.
const progressInterval = 250

// ImportExecutor applies a confirmed mapping to every row of an import's source file.
type ImportExecutor interface {
	// Execute processes a job that is already PROCESSING and moves it to
	// COMPLETED or FAILED. Row-level problems never fail the job.
	Execute(ctx context.Context, job *models.ImportJob) error
}

// ImportExecutorConfig bounds what is persisted about row errors.
type ImportExecutorConfig struct {
	// MaxRowErrorDetails caps the stored row error list; ErrorCount stays exact.
	MaxRowErrorDetails int
}

type importExecutor struct {
	jobRepo      repositories.ImportJobRepository
	employeeRepo repositories.EmployeeRepository
	extractor    tabular.Extractor
	risk         RiskRunStarter
	audit        AuditSink
	metrics      *metrics.Metrics
	cfg          ImportExecutorConfig
	logger       *zap.Logger
}

// NewImportExecutor creates an ImportExecutor.
func NewImportExecutor(
	jobRepo repositories.ImportJobRepository,
	employeeRepo repositories.EmployeeRepository,
	extractor tabular.Extractor,
	risk RiskRunStarter,
	audit AuditSink,
	m *metrics.Metrics,
	cfg ImportExecutorConfig,
	logger *zap.Logger,
) ImportExecutor {
	return &importExecutor{
		jobRepo:      jobRepo,
		employeeRepo: employeeRepo,
		extractor:    extractor,
		risk:         risk,
		audit:        audit,
		metrics:      m,
		cfg:          cfg,
		logger:       logger.Named("import-executor"),
	}
}

var _ ImportExecutor = (*importExecutor)(nil)

// importRun accumulates the outcome of one execution.
type importRun struct {
	counts    models.ImportCounts
	rowErrors []models.RowError
	maxErrors int
}

func (r *importRun) addError(rowErr models.RowError) {
	r.counts.Errors++
	if len(r.rowErrors) < r.maxErrors {
		r.rowErrors = append(r.rowErrors, rowErr)
	}
}

func (e *importExecutor) Execute(ctx context.Context, job *models.ImportJob) error {
	start := time.Now()
	run := &importRun{maxErrors: e.cfg.MaxRowErrorDetails}

	e.logger.Info("Import started",
		zap.String("org_id", job.OrgID.String()),
		zap.String("import_id", job.ID.String()),
		zap.String("file_name", job.FileName))

	processed := 0
	err := e.extractor.EachRow(ctx, job.FilePath, func(rowNumber int, record map[string]string) error {
		if rowErr := e.processRow(ctx, job, rowNumber, record, run); rowErr != nil {
			run.addError(*rowErr)
		}
		processed++
		if processed%progressInterval == 0 {
			if err := e.jobRepo.UpdateCounts(ctx, job.ID, run.counts); err != nil {
				return fmt.Errorf("failed to persist import progress: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return e.fail(ctx, job, run, err)
	}

	if err := e.jobRepo.Complete(ctx, job.ID, run.counts, run.rowErrors); err != nil {
		return e.fail(ctx, job, run, fmt.Errorf("failed to complete import: %w", err))
	}

	e.metrics.ImportFinished(string(models.ImportStatusCompleted), run.counts.Created, run.counts.Updated, run.counts.Errors)
	e.logger.Info("Import completed",
		zap.String("org_id", job.OrgID.String()),
		zap.String("import_id", job.ID.String()),
		zap.Int("created", run.counts.Created),
		zap.Int("updated", run.counts.Updated),
		zap.Int("errors", run.counts.Errors),
		zap.Duration("elapsed", time.Since(start)))
	e.audit.Emit(ctx, models.AuditEvent{
		OrgID:      job.OrgID,
		Action:     models.AuditActionImportCompleted,
		EntityType: "import_job",
		EntityID:   job.ID,
		Details: map[string]any{
			"created_count": run.counts.Created,
			"updated_count": run.counts.Updated,
			"error_count":   run.counts.Errors,
		},
	})

	jobID := job.ID
	if _, err := e.risk.StartRun(ctx, job.OrgID, models.RiskTriggerImport, &jobID); err != nil {
		e.logger.Error("Failed to start post-import risk run",
			zap.String("org_id", job.OrgID.String()),
			zap.String("import_id", job.ID.String()),
			zap.Error(err))
	}
	return nil
}

// processRow validates, upserts and snapshots one row. A returned RowError
// means the row was skipped; a panic is recovered into one.
func (e *importExecutor) processRow(ctx context.Context, job *models.ImportJob, rowNumber int, record map[string]string, run *importRun) (rowErr *models.RowError) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic while importing row",
				zap.String("import_id", job.ID.String()),
				zap.Int("row", rowNumber),
				zap.Any("panic", r))
			rowErr = &models.RowError{Row: rowNumber, Message: fmt.Sprintf("unexpected error: %v", r)}
		}
	}()

	attrs, invalid := buildEmployeeAttributes(record, job.ColumnMapping)
	if invalid != nil {
		invalid.Row = rowNumber
		return invalid
	}

	created, err := e.employeeRepo.UpsertWithSnapshot(ctx, job.OrgID, job.ID, attrs)
	if err != nil {
		e.logger.Warn("Failed to upsert employee",
			zap.String("import_id", job.ID.String()),
			zap.Int("row", rowNumber),
			zap.Error(err))
		return &models.RowError{Row: rowNumber, Field: models.FieldEmployeeID, Message: "failed to save employee"}
	}

	if created {
		run.counts.Created++
	} else {
		run.counts.Updated++
	}
	return nil
}

func (e *importExecutor) fail(ctx context.Context, job *models.ImportJob, run *importRun, cause error) error {
	e.logger.Error("Import failed",
		zap.String("org_id", job.OrgID.String()),
		zap.String("import_id", job.ID.String()),
		zap.Int("created", run.counts.Created),
		zap.Int("updated", run.counts.Updated),
		zap.Error(cause))

	// a cancelled task context must not prevent the terminal write
	if err := e.jobRepo.Fail(context.WithoutCancel(ctx), job.ID, run.counts, cause.Error()); err != nil {
		e.logger.Error("Failed to mark import as failed",
			zap.String("import_id", job.ID.String()),
			zap.Error(err))
	}

	e.metrics.ImportFinished(string(models.ImportStatusFailed), run.counts.Created, run.counts.Updated, run.counts.Errors)
	e.audit.Emit(ctx, models.AuditEvent{
		OrgID:      job.OrgID,
		Action:     models.AuditActionImportFailed,
		EntityType: "import_job",
		EntityID:   job.ID,
		Details:    map[string]any{"error": cause.Error()},
	})
	return cause
}
