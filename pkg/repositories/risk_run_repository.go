package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// RiskRunRepository provides data access for risk runs and their group results.
type RiskRunRepository interface {
	Create(ctx context.Context, run *models.RiskRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RiskRun, error)
	GetLatest(ctx context.Context, orgID uuid.UUID) (*models.RiskRun, error)

	// Complete writes every group result and marks the run COMPLETED in one transaction.
	// A run that is no longer RUNNING is rejected with ErrInvalidState and nothing is written.
	Complete(ctx context.Context, id uuid.UUID, results []*models.ComparatorGroupResult) error
	Fail(ctx context.Context, id uuid.UUID, message string) error

	ListGroupResults(ctx context.Context, runID uuid.UUID) ([]*models.ComparatorGroupResult, error)
}

type riskRunRepository struct{}

// NewRiskRunRepository creates a new RiskRunRepository.
func NewRiskRunRepository() RiskRunRepository {
	return &riskRunRepository{}
}

var _ RiskRunRepository = (*riskRunRepository)(nil)

const riskRunColumns = `id, org_id, trigger, status, import_job_id, error_message, started_at, finished_at`

func (r *riskRunRepository) Create(ctx context.Context, run *models.RiskRun) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.RiskRunStatusRunning
	run.StartedAt = time.Now()

	query := `
		INSERT INTO paygap_risk_runs (id, org_id, trigger, status, import_job_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		run.ID, run.OrgID, run.Trigger, string(run.Status), run.ImportJobID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create risk run: %w", err)
	}

	return nil
}

func (r *riskRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RiskRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + riskRunColumns + ` FROM paygap_risk_runs WHERE id = $1`

	run, err := scanRiskRun(scope.Conn.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk run: %w", err)
	}

	return run, nil
}

func (r *riskRunRepository) GetLatest(ctx context.Context, orgID uuid.UUID) (*models.RiskRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + riskRunColumns + `
		FROM paygap_risk_runs
		WHERE org_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	run, err := scanRiskRun(scope.Conn.QueryRow(ctx, query, orgID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest risk run: %w", err)
	}

	return run, nil
}

func (r *riskRunRepository) Complete(ctx context.Context, id uuid.UUID, results []*models.ComparatorGroupResult) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE paygap_risk_runs
		SET status = 'COMPLETED', finished_at = now()
		WHERE id = $1 AND status = 'RUNNING'`, id)
	if err != nil {
		return fmt.Errorf("failed to complete risk run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrInvalidState
	}

	if len(results) > 0 {
		columns := []string{
			"id", "run_id", "org_id", "group_key", "country", "job_family", "level", "role_title",
			"uses_role_fallback", "women_count", "men_count", "gap_pct", "risk_state", "note", "computed_at",
		}

		now := time.Now()
		rows := make([][]any, len(results))
		for i, res := range results {
			if res.ID == uuid.Nil {
				res.ID = uuid.New()
			}
			res.RunID = id
			res.ComputedAt = now
			rows[i] = []any{
				res.ID, res.RunID, res.OrgID, res.GroupKey, res.Country, res.JobFamily, res.Level, res.RoleTitle,
				res.UsesRoleFallback, res.WomenCount, res.MenCount, res.GapPct, string(res.RiskState), res.Note,
				res.ComputedAt,
			}
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"paygap_group_results"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to insert group results: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *riskRunRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE paygap_risk_runs
		SET status = 'FAILED', error_message = $2, finished_at = now()
		WHERE id = $1 AND status = 'RUNNING'`, id, message)
	if err != nil {
		return fmt.Errorf("failed to mark risk run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrInvalidState
	}

	return nil
}

func (r *riskRunRepository) ListGroupResults(ctx context.Context, runID uuid.UUID) ([]*models.ComparatorGroupResult, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, run_id, org_id, group_key, country, job_family, level, role_title,
		       uses_role_fallback, women_count, men_count, gap_pct, risk_state, note, computed_at
		FROM paygap_group_results
		WHERE run_id = $1
		ORDER BY group_key`

	rows, err := scope.Conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group results: %w", err)
	}
	defer rows.Close()

	var results []*models.ComparatorGroupResult
	for rows.Next() {
		var g models.ComparatorGroupResult
		var state string
		if err := rows.Scan(
			&g.ID, &g.RunID, &g.OrgID, &g.GroupKey, &g.Country, &g.JobFamily, &g.Level, &g.RoleTitle,
			&g.UsesRoleFallback, &g.WomenCount, &g.MenCount, &g.GapPct, &state, &g.Note, &g.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan group result: %w", err)
		}
		g.RiskState = models.RiskState(state)
		results = append(results, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group results: %w", err)
	}

	return results, nil
}

func scanRiskRun(row pgx.Row) (*models.RiskRun, error) {
	var run models.RiskRun
	var status string
	if err := row.Scan(
		&run.ID, &run.OrgID, &run.Trigger, &status, &run.ImportJobID, &run.ErrorMessage,
		&run.StartedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = models.RiskRunStatus(status)
	return &run, nil
}
