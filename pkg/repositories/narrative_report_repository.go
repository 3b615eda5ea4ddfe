package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// NarrativeReportRepository provides data access for generated narrative reports.
type NarrativeReportRepository interface {
	Create(ctx context.Context, report *models.NarrativeReport) error
	GetLatestByRun(ctx context.Context, runID uuid.UUID) (*models.NarrativeReport, error)
}

type narrativeReportRepository struct{}

// NewNarrativeReportRepository creates a new NarrativeReportRepository.
func NewNarrativeReportRepository() NarrativeReportRepository {
	return &narrativeReportRepository{}
}

var _ NarrativeReportRepository = (*narrativeReportRepository)(nil)

func (r *narrativeReportRepository) Create(ctx context.Context, report *models.NarrativeReport) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}

	query := `
		INSERT INTO paygap_narrative_reports (id, org_id, run_id, summary, model, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		report.ID, report.OrgID, report.RunID, report.Summary, report.Model, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to create narrative report: %w", err)
	}

	return nil
}

func (r *narrativeReportRepository) GetLatestByRun(ctx context.Context, runID uuid.UUID) (*models.NarrativeReport, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, org_id, run_id, summary, model, generated_at
		FROM paygap_narrative_reports
		WHERE run_id = $1
		ORDER BY generated_at DESC
		LIMIT 1`

	var rep models.NarrativeReport
	err := scope.Conn.QueryRow(ctx, query, runID).Scan(
		&rep.ID, &rep.OrgID, &rep.RunID, &rep.Summary, &rep.Model, &rep.GeneratedAt)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get narrative report: %w", err)
	}

	return &rep, nil
}
