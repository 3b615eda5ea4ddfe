package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
	"github.com/ekaya-inc/paygap-engine/pkg/services/workqueue"
)

var (
	_ TaskEnqueuer                           = (*testQueue)(nil)
	_ AuditSink                              = (*recordingAudit)(nil)
	_ repositories.ImportJobRepository       = (*memImportJobRepo)(nil)
	_ repositories.EmployeeRepository        = (*memEmployeeRepo)(nil)
	_ repositories.RiskRunRepository         = (*memRiskRunRepo)(nil)
	_ repositories.NarrativeReportRepository = (*memReportRepo)(nil)
)

// ============================================================================
// Tenant / queue / audit doubles
// ============================================================================

// passthroughTenant satisfies TenantContextFunc without a database.
func passthroughTenant(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// failFirstTenant fails the first n acquisitions, then passes through.
func failFirstTenant(n int) TenantContextFunc {
	var mu sync.Mutex
	return func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return nil, nil, errors.New("connection pool exhausted")
		}
		return passthroughTenant(ctx, orgID)
	}
}

// testQueue records tasks and, when inline is set, runs them immediately.
type testQueue struct {
	mu     sync.Mutex
	inline bool
	err    error
	tasks  []workqueue.Task
	errs   []error
}

func (q *testQueue) Enqueue(task workqueue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	if q.inline {
		err := task.Execute(context.Background())
		q.mu.Lock()
		q.errs = append(q.errs, err)
		q.mu.Unlock()
	}
	return nil
}

func (q *testQueue) taskNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		names[i] = t.Name()
	}
	return names
}

type recordingAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAudit) Emit(ctx context.Context, event models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if event.Actor == "" {
		event.Actor = models.ActorFromContext(ctx)
	}
	a.events = append(a.events, event)
}

func (a *recordingAudit) Close(context.Context) error { return nil }

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

// ============================================================================
// Repository doubles
// ============================================================================

type memImportJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ImportJob

	createErr       error
	updateCountsErr error
	completeErr     error
	updateCalls     int
}

func newMemImportJobRepo() *memImportJobRepo {
	return &memImportJobRepo{jobs: make(map[uuid.UUID]*models.ImportJob)}
}

func (m *memImportJobRepo) Create(_ context.Context, job *models.ImportJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.ImportStatusPendingMapping
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memImportJobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memImportJobRepo) StartProcessing(_ context.Context, id uuid.UUID, mapping models.ColumnMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if job.Status != models.ImportStatusPendingMapping {
		return apperrors.ErrInvalidState
	}
	job.Status = models.ImportStatusProcessing
	job.ColumnMapping = mapping
	return nil
}

func (m *memImportJobRepo) UpdateCounts(_ context.Context, id uuid.UUID, counts models.ImportCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateCountsErr != nil {
		return m.updateCountsErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.CreatedCount, job.UpdatedCount, job.ErrorCount = counts.Created, counts.Updated, counts.Errors
	return nil
}

func (m *memImportJobRepo) terminal(id uuid.UUID, status models.ImportStatus, counts models.ImportCounts) (*models.ImportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil, apperrors.ErrInvalidState
	}
	now := time.Now()
	job.Status = status
	job.CreatedCount, job.UpdatedCount, job.ErrorCount = counts.Created, counts.Updated, counts.Errors
	job.CompletedAt = &now
	return job, nil
}

func (m *memImportJobRepo) Complete(_ context.Context, id uuid.UUID, counts models.ImportCounts, rowErrors []models.RowError) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.terminal(id, models.ImportStatusCompleted, counts)
	if err != nil {
		return err
	}
	job.RowErrors = rowErrors
	return nil
}

func (m *memImportJobRepo) Fail(_ context.Context, id uuid.UUID, counts models.ImportCounts, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.terminal(id, models.ImportStatusFailed, counts)
	if err != nil {
		return err
	}
	job.ErrorMessage = &message
	return nil
}

type memEmployeeRepo struct {
	mu        sync.Mutex
	employees map[string]*models.EmployeeRecord
	snapshots []*models.EmployeeSnapshot

	// failFor and panicFor select external ids whose upsert errors or panics.
	failFor  map[string]error
	panicFor string
	listErr  error
	rows     []models.CompensationRow
}

func newMemEmployeeRepo() *memEmployeeRepo {
	return &memEmployeeRepo{employees: make(map[string]*models.EmployeeRecord)}
}

func employeeKey(orgID uuid.UUID, externalID string) string {
	return orgID.String() + "|" + externalID
}

func (m *memEmployeeRepo) Upsert(_ context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (*models.EmployeeRecord, bool, error) {
	if err := m.failFor[attrs.ExternalID]; err != nil {
		return nil, false, err
	}
	if m.panicFor != "" && attrs.ExternalID == m.panicFor {
		panic("simulated driver panic")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := employeeKey(orgID, attrs.ExternalID)
	rec, exists := m.employees[key]
	now := time.Now()
	if !exists {
		rec = &models.EmployeeRecord{ID: uuid.New(), OrgID: orgID, CreatedAt: now}
		m.employees[key] = rec
	}
	rec.EmployeeAttributes = *attrs
	jobID := importJobID
	rec.LastImportID = &jobID
	rec.UpdatedAt = now
	cp := *rec
	return &cp, !exists, nil
}

func (m *memEmployeeRepo) CreateSnapshot(_ context.Context, snap *models.EmployeeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	snap.CapturedAt = time.Now()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memEmployeeRepo) UpsertWithSnapshot(ctx context.Context, orgID, importJobID uuid.UUID, attrs *models.EmployeeAttributes) (bool, error) {
	rec, created, err := m.Upsert(ctx, orgID, importJobID, attrs)
	if err != nil {
		return false, err
	}
	return created, m.CreateSnapshot(ctx, &models.EmployeeSnapshot{
		OrgID:              orgID,
		EmployeeID:         rec.ID,
		ImportJobID:        importJobID,
		EmployeeAttributes: rec.EmployeeAttributes,
	})
}

func (m *memEmployeeRepo) GetByExternalID(_ context.Context, orgID uuid.UUID, externalID string) (*models.EmployeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.employees[employeeKey(orgID, externalID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memEmployeeRepo) ListSnapshots(_ context.Context, employeeID uuid.UUID) ([]*models.EmployeeSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EmployeeSnapshot
	for _, s := range m.snapshots {
		if s.EmployeeID == employeeID {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListCompensation returns rows when set, otherwise projects the stored employees.
func (m *memEmployeeRepo) ListCompensation(_ context.Context, orgID uuid.UUID) ([]models.CompensationRow, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.rows != nil {
		return m.rows, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CompensationRow
	for _, rec := range m.employees {
		if rec.OrgID != orgID {
			continue
		}
		out = append(out, models.CompensationRow{
			BaseSalary: rec.BaseSalary,
			Gender:     rec.Gender,
			Country:    rec.Country,
			JobFamily:  rec.JobFamily,
			Level:      rec.Level,
			RoleTitle:  rec.RoleTitle,
		})
	}
	return out, nil
}

type memRiskRunRepo struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*models.RiskRun
	results map[uuid.UUID][]*models.ComparatorGroupResult

	createErr   error
	completeErr error
	failErr     error
	failCalls   int
}

func newMemRiskRunRepo() *memRiskRunRepo {
	return &memRiskRunRepo{
		runs:    make(map[uuid.UUID]*models.RiskRun),
		results: make(map[uuid.UUID][]*models.ComparatorGroupResult),
	}
}

func (m *memRiskRunRepo) Create(_ context.Context, run *models.RiskRun) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.RiskRunStatusRunning
	run.StartedAt = time.Now()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRiskRunRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RiskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memRiskRunRepo) GetLatest(_ context.Context, orgID uuid.UUID) (*models.RiskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.RiskRun
	for _, run := range m.runs {
		if run.OrgID == orgID && (latest == nil || run.StartedAt.After(latest.StartedAt)) {
			latest = run
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memRiskRunRepo) Complete(_ context.Context, id uuid.UUID, results []*models.ComparatorGroupResult) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status != models.RiskRunStatusRunning {
		return apperrors.ErrInvalidState
	}
	now := time.Now()
	for _, res := range results {
		res.ID = uuid.New()
		res.RunID = id
		res.ComputedAt = now
	}
	m.results[id] = results
	run.Status = models.RiskRunStatusCompleted
	run.FinishedAt = &now
	return nil
}

func (m *memRiskRunRepo) Fail(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls++
	if m.failErr != nil {
		return m.failErr
	}
	run, ok := m.runs[id]
	if !ok || run.Status != models.RiskRunStatusRunning {
		return apperrors.ErrInvalidState
	}
	now := time.Now()
	run.Status = models.RiskRunStatusFailed
	run.FinishedAt = &now
	run.ErrorMessage = &message
	return nil
}

func (m *memRiskRunRepo) ListGroupResults(_ context.Context, runID uuid.UUID) ([]*models.ComparatorGroupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*models.ComparatorGroupResult(nil), m.results[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out, nil
}

type memReportRepo struct {
	mu        sync.Mutex
	reports   []*models.NarrativeReport
	createErr error
}

func (m *memReportRepo) Create(_ context.Context, report *models.NarrativeReport) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	m.reports = append(m.reports, report)
	return nil
}

func (m *memReportRepo) GetLatestByRun(_ context.Context, runID uuid.UUID) (*models.NarrativeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].RunID == runID {
			return m.reports[i], nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func strPtr(s string) *string { return &s }
