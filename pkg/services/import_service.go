package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
	"github.com/ekaya-inc/paygap-engine/pkg/services/workqueue"
	"github.com/ekaya-inc/paygap-engine/pkg/tabular"
)

// UploadResult is returned after a file has been stored and its columns mapped.
type UploadResult struct {
	Job        *models.ImportJob
	SampleRows []map[string]string
	Mapping    *models.MappingResult
}

// ImportService drives an import from upload to mapping confirmation.
type ImportService interface {
	// Upload stores the file, extracts headers and a sample, resolves a
	// suggested mapping and creates a PENDING_MAPPING job.
	Upload(ctx context.Context, orgID uuid.UUID, fileName string, content io.Reader, opts ResolveOptions) (*UploadResult, error)

	// Preview applies mapping to the job's sample rows without persisting anything.
	Preview(ctx context.Context, orgID, jobID uuid.UUID, mapping models.ColumnMapping) (*PreviewResult, error)

	// Confirm stores the mapping, moves the job to PROCESSING and schedules
	// execution. It returns before any row is processed.
	Confirm(ctx context.Context, orgID, jobID uuid.UUID, mapping models.ColumnMapping) (*models.ImportJob, error)

	GetStatus(ctx context.Context, orgID, jobID uuid.UUID) (*models.ImportJob, error)
}

// ImportServiceConfig holds upload settings.
type ImportServiceConfig struct {
	UploadDir  string
	SampleSize int
}

type importService struct {
	jobRepo      repositories.ImportJobRepository
	extractor    tabular.Extractor
	resolver     MappingResolver
	preview      PreviewGenerator
	executor     ImportExecutor
	queue        TaskEnqueuer
	getTenantCtx TenantContextFunc
	audit        AuditSink
	cfg          ImportServiceConfig
	logger       *zap.Logger
}

// NewImportService creates an ImportService.
func NewImportService(
	jobRepo repositories.ImportJobRepository,
	extractor tabular.Extractor,
	resolver MappingResolver,
	preview PreviewGenerator,
	executor ImportExecutor,
	queue TaskEnqueuer,
	getTenantCtx TenantContextFunc,
	audit AuditSink,
	cfg ImportServiceConfig,
	logger *zap.Logger,
) ImportService {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	return &importService{
		jobRepo:      jobRepo,
		extractor:    extractor,
		resolver:     resolver,
		preview:      preview,
		executor:     executor,
		queue:        queue,
		getTenantCtx: getTenantCtx,
		audit:        audit,
		cfg:          cfg,
		logger:       logger.Named("import-service"),
	}
}

var _ ImportService = (*importService)(nil)

func (s *importService) Upload(ctx context.Context, orgID uuid.UUID, fileName string, content io.Reader, opts ResolveOptions) (*UploadResult, error) {
	jobID := uuid.New()
	path, err := s.store(orgID, jobID, fileName, content)
	if err != nil {
		return nil, err
	}

	result, err := s.inspect(ctx, orgID, jobID, fileName, path, opts)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("Failed to remove rejected upload", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}
	return result, nil
}

func (s *importService) inspect(ctx context.Context, orgID, jobID uuid.UUID, fileName, path string, opts ResolveOptions) (*UploadResult, error) {
	format, err := s.extractor.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	headers, err := s.extractor.ParseHeaders(path)
	if err != nil {
		return nil, err
	}
	sample, err := s.extractor.ParseSampleRows(path, s.cfg.SampleSize)
	if err != nil {
		return nil, err
	}

	mapping := s.resolver.Resolve(ctx, headers, sample.Rows, opts)

	job := &models.ImportJob{
		ID:              jobID,
		OrgID:           orgID,
		UploadedBy:      models.ActorFromContext(ctx),
		FileName:        fileName,
		FilePath:        path,
		FileFormat:      format,
		Status:          models.ImportStatusPendingMapping,
		RowCount:        sample.TotalRows,
		DetectedColumns: headers,
		ColumnMapping:   mapping.Mapping,
		MappingSource:   mapping.Source,
		Confidence:      mapping.Confidence,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	s.logger.Info("Import uploaded",
		zap.String("org_id", orgID.String()),
		zap.String("import_id", jobID.String()),
		zap.String("format", string(format)),
		zap.Int("row_count", sample.TotalRows),
		zap.String("mapping_source", string(mapping.Source)))
	s.audit.Emit(ctx, models.AuditEvent{
		OrgID:      orgID,
		Action:     models.AuditActionImportUploaded,
		EntityType: "import_job",
		EntityID:   jobID,
		Details: map[string]any{
			"file_name":      fileName,
			"row_count":      sample.TotalRows,
			"mapping_source": string(mapping.Source),
		},
	})

	return &UploadResult{Job: job, SampleRows: sample.Rows, Mapping: mapping}, nil
}

// store writes the upload under UploadDir/<org>/<job><ext>.
func (s *importService) store(orgID, jobID uuid.UUID, fileName string, content io.Reader) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir, orgID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	path := filepath.Join(dir, jobID.String()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

func (s *importService) Preview(ctx context.Context, orgID, jobID uuid.UUID, mapping models.ColumnMapping) (*PreviewResult, error) {
	job, err := s.GetStatus(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if err := validateMappingColumns(mapping, job.DetectedColumns); err != nil {
		return nil, err
	}

	sample, err := s.extractor.ParseSampleRows(job.FilePath, s.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	return s.preview.Generate(sample, mapping), nil
}

func (s *importService) Confirm(ctx context.Context, orgID, jobID uuid.UUID, mapping models.ColumnMapping) (*models.ImportJob, error) {
	job, err := s.GetStatus(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportStatusPendingMapping {
		return nil, fmt.Errorf("import is %s: %w", job.Status, apperrors.ErrInvalidState)
	}
	if err := validateMappingColumns(mapping, job.DetectedColumns); err != nil {
		return nil, err
	}
	for _, field := range models.RequiredFields {
		if _, ok := mapping.Column(field); !ok {
			return nil, fmt.Errorf("required field %s is not mapped: %w", field, apperrors.ErrInvalidInput)
		}
	}

	if err := s.jobRepo.StartProcessing(ctx, jobID, mapping); err != nil {
		return nil, fmt.Errorf("failed to start import: %w", err)
	}
	job.Status = models.ImportStatusProcessing
	job.ColumnMapping = mapping

	actor := models.ActorFromContext(ctx)
	queued := *job
	task := workqueue.NewFuncTask("import", false, func(taskCtx context.Context) error {
		tenantCtx, cleanup, err := WithActorWrapper(s.getTenantCtx, actor)(taskCtx, orgID)
		if err != nil {
			err = fmt.Errorf("failed to acquire org connection: %w", err)
			s.failDetached(taskCtx, orgID, jobID, actor, err.Error())
			return err
		}
		defer cleanup()
		return s.executor.Execute(tenantCtx, &queued)
	}).WithOnAbandon(func() {
		s.failDetached(ctx, orgID, jobID, actor, "cancelled before start: service shutting down")
	})
	if err := s.queue.Enqueue(task); err != nil {
		if failErr := s.jobRepo.Fail(ctx, jobID, models.ImportCounts{}, "could not schedule import"); failErr != nil {
			s.logger.Warn("Failed to mark unscheduled import as failed",
				zap.String("import_id", jobID.String()),
				zap.Error(failErr))
		}
		return nil, fmt.Errorf("failed to schedule import: %w", err)
	}

	s.logger.Info("Import mapping confirmed",
		zap.String("org_id", orgID.String()),
		zap.String("import_id", jobID.String()))
	s.audit.Emit(ctx, models.AuditEvent{
		OrgID:      orgID,
		Action:     models.AuditActionMappingConfirm,
		EntityType: "import_job",
		EntityID:   jobID,
		Details:    map[string]any{"mapping": mapping},
	})

	return job, nil
}

// failDetached marks a job FAILED when the executor never got to run.
func (s *importService) failDetached(ctx context.Context, orgID, jobID uuid.UUID, actor, message string) {
	err := runDetached(ctx, s.getTenantCtx, orgID, actor, func(tenantCtx context.Context) error {
		if err := s.jobRepo.Fail(tenantCtx, jobID, models.ImportCounts{}, message); err != nil {
			return err
		}
		s.audit.Emit(tenantCtx, models.AuditEvent{
			OrgID:      orgID,
			Action:     models.AuditActionImportFailed,
			EntityType: "import_job",
			EntityID:   jobID,
			Details:    map[string]any{"error": message},
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to mark import as failed",
			zap.String("import_id", jobID.String()),
			zap.Error(err))
	}
}

func (s *importService) GetStatus(ctx context.Context, orgID, jobID uuid.UUID) (*models.ImportJob, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OrgID != orgID {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

// validateMappingColumns rejects unknown fields and columns missing from the header.
func validateMappingColumns(mapping models.ColumnMapping, headers []string) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	for field, col := range mapping {
		if !models.IsCanonicalField(field) {
			return fmt.Errorf("unknown field %q: %w", field, apperrors.ErrInvalidInput)
		}
		if col != "" && !known[col] {
			return fmt.Errorf("column %q for field %s is not in the file: %w", col, field, apperrors.ErrInvalidInput)
		}
	}
	return nil
}
