package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// EmployeeRepository provides data access for canonical employees and their snapshots.
type EmployeeRepository interface {
	// Upsert inserts or fully overwrites the employee keyed by (orgID, attrs.ExternalID).
	// created is true when a new row was inserted.
	Upsert(ctx context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (rec *models.EmployeeRecord, created bool, err error)
	CreateSnapshot(ctx context.Context, snap *models.EmployeeSnapshot) error

	// UpsertWithSnapshot runs Upsert and CreateSnapshot in one transaction so a
	// row is either fully applied or not at all.
	UpsertWithSnapshot(ctx context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (created bool, err error)

	GetByExternalID(ctx context.Context, orgID uuid.UUID, externalID string) (*models.EmployeeRecord, error)
	ListSnapshots(ctx context.Context, employeeID uuid.UUID) ([]*models.EmployeeSnapshot, error)

	// ListCompensation loads the grouping projection for every employee in the org.
	ListCompensation(ctx context.Context, orgID uuid.UUID) ([]models.CompensationRow, error)
}

type employeeRepository struct{}

// NewEmployeeRepository creates a new EmployeeRepository.
func NewEmployeeRepository() EmployeeRepository {
	return &employeeRepository{}
}

var _ EmployeeRepository = (*employeeRepository)(nil)

// execer is satisfied by both a pooled connection and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const employeeColumns = `
	id, org_id, external_id, role_title, job_family, level, country, location, currency,
	base_salary, bonus_target, lti_target, hire_date, employment_type, gender, performance_rating,
	last_import_id, created_at, updated_at`

func (r *employeeRepository) Upsert(ctx context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (*models.EmployeeRecord, bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, false, fmt.Errorf("no tenant scope in context")
	}
	return upsertEmployee(ctx, scope.Conn, orgID, importJobID, attrs)
}

func (r *employeeRepository) CreateSnapshot(ctx context.Context, snap *models.EmployeeSnapshot) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	return insertSnapshot(ctx, scope.Conn, snap)
}

func (r *employeeRepository) UpsertWithSnapshot(ctx context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	rec, created, err := upsertEmployee(ctx, tx, orgID, importJobID, attrs)
	if err != nil {
		return false, err
	}

	snap := &models.EmployeeSnapshot{
		OrgID:              orgID,
		EmployeeID:         rec.ID,
		ImportJobID:        importJobID,
		EmployeeAttributes: *attrs,
	}
	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func upsertEmployee(ctx context.Context, q execer, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (*models.EmployeeRecord, bool, error) {
	rec := &models.EmployeeRecord{
		OrgID:              orgID,
		EmployeeAttributes: *attrs,
		LastImportID:       &importJobID,
	}

	// xmax is zero only for a freshly inserted tuple.
	query := `
		INSERT INTO paygap_employees (
			org_id, external_id, role_title, job_family, level, country, location, currency,
			base_salary, bonus_target, lti_target, hire_date, employment_type, gender,
			performance_rating, last_import_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (org_id, external_id) DO UPDATE SET
			role_title = EXCLUDED.role_title,
			job_family = EXCLUDED.job_family,
			level = EXCLUDED.level,
			country = EXCLUDED.country,
			location = EXCLUDED.location,
			currency = EXCLUDED.currency,
			base_salary = EXCLUDED.base_salary,
			bonus_target = EXCLUDED.bonus_target,
			lti_target = EXCLUDED.lti_target,
			hire_date = EXCLUDED.hire_date,
			employment_type = EXCLUDED.employment_type,
			gender = EXCLUDED.gender,
			performance_rating = EXCLUDED.performance_rating,
			last_import_id = EXCLUDED.last_import_id,
			updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)`

	var created bool
	err := q.QueryRow(ctx, query,
		orgID, attrs.ExternalID, attrs.RoleTitle, attrs.JobFamily, attrs.Level, attrs.Country,
		attrs.Location, attrs.Currency, attrs.BaseSalary, attrs.BonusTarget, attrs.LTITarget,
		attrs.HireDate, attrs.EmploymentType, attrs.Gender, attrs.PerformanceRating, importJobID,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert employee %q: %w", attrs.ExternalID, err)
	}

	return rec, created, nil
}

func insertSnapshot(ctx context.Context, q execer, snap *models.EmployeeSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	snap.CapturedAt = time.Now()

	query := `
		INSERT INTO paygap_employee_snapshots (
			id, org_id, employee_id, import_job_id, external_id, role_title, job_family, level,
			country, location, currency, base_salary, bonus_target, lti_target, hire_date,
			employment_type, gender, performance_rating, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	a := snap.EmployeeAttributes
	_, err := q.Exec(ctx, query,
		snap.ID, snap.OrgID, snap.EmployeeID, snap.ImportJobID, a.ExternalID, a.RoleTitle, a.JobFamily,
		a.Level, a.Country, a.Location, a.Currency, a.BaseSalary, a.BonusTarget, a.LTITarget, a.HireDate,
		a.EmploymentType, a.Gender, a.PerformanceRating, snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create employee snapshot: %w", err)
	}

	return nil
}

func (r *employeeRepository) GetByExternalID(ctx context.Context, orgID uuid.UUID, externalID string) (*models.EmployeeRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + employeeColumns + ` FROM paygap_employees WHERE org_id = $1 AND external_id = $2`

	var rec models.EmployeeRecord
	err := scope.Conn.QueryRow(ctx, query, orgID, externalID).Scan(
		&rec.ID, &rec.OrgID, &rec.ExternalID, &rec.RoleTitle, &rec.JobFamily, &rec.Level, &rec.Country,
		&rec.Location, &rec.Currency, &rec.BaseSalary, &rec.BonusTarget, &rec.LTITarget, &rec.HireDate,
		&rec.EmploymentType, &rec.Gender, &rec.PerformanceRating, &rec.LastImportID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	return &rec, nil
}

func (r *employeeRepository) ListSnapshots(ctx context.Context, employeeID uuid.UUID) ([]*models.EmployeeSnapshot, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, org_id, employee_id, import_job_id, external_id, role_title, job_family, level,
		       country, location, currency, base_salary, bonus_target, lti_target, hire_date,
		       employment_type, gender, performance_rating, captured_at
		FROM paygap_employee_snapshots
		WHERE employee_id = $1
		ORDER BY captured_at ASC`

	rows, err := scope.Conn.Query(ctx, query, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employee snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.EmployeeSnapshot
	for rows.Next() {
		var s models.EmployeeSnapshot
		if err := rows.Scan(
			&s.ID, &s.OrgID, &s.EmployeeID, &s.ImportJobID, &s.ExternalID, &s.RoleTitle, &s.JobFamily, &s.Level,
			&s.Country, &s.Location, &s.Currency, &s.BaseSalary, &s.BonusTarget, &s.LTITarget, &s.HireDate,
			&s.EmploymentType, &s.Gender, &s.PerformanceRating, &s.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan employee snapshot: %w", err)
		}
		snaps = append(snaps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating employee snapshots: %w", err)
	}

	return snaps, nil
}

func (r *employeeRepository) ListCompensation(ctx context.Context, orgID uuid.UUID) ([]models.CompensationRow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT base_salary, gender, country, job_family, level, role_title
		FROM paygap_employees
		WHERE org_id = $1`

	rows, err := scope.Conn.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compensation: %w", err)
	}
	defer rows.Close()

	var out []models.CompensationRow
	for rows.Next() {
		var c models.CompensationRow
		if err := rows.Scan(&c.BaseSalary, &c.Gender, &c.Country, &c.JobFamily, &c.Level, &c.RoleTitle); err != nil {
			return nil, fmt.Errorf("failed to scan compensation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compensation rows: %w", err)
	}

	return out, nil
}
