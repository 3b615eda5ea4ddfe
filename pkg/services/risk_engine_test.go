package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/services/workqueue"
)

func compRow(country, family, level, role, gender string, salary float64) models.CompensationRow {
	row := models.CompensationRow{
		BaseSalary: salary,
		Country:    country,
		Level:      level,
		RoleTitle:  role,
	}
	if family != "" {
		row.JobFamily = strPtr(family)
	}
	if gender != "" {
		row.Gender = strPtr(gender)
	}
	return row
}

func engineeringSeniorRows() []models.CompensationRow {
	var rows []models.CompensationRow
	for _, s := range []float64{95000, 92000, 89000, 91000} {
		rows = append(rows, compRow("IE", "Engineering", "Senior", "Engineer", "male", s))
	}
	for _, s := range []float64{88000, 87000, 85000} {
		rows = append(rows, compRow("IE", "Engineering", "Senior", "Engineer", "female", s))
	}
	return rows
}

func findGroup(t *testing.T, results []*models.ComparatorGroupResult, key string) *models.ComparatorGroupResult {
	t.Helper()
	for _, r := range results {
		if r.GroupKey == key {
			return r
		}
	}
	t.Fatalf("group %q not found", key)
	return nil
}

func TestClassifyGender(t *testing.T) {
	tests := []struct {
		input    *string
		expected Gender
	}{
		{strPtr("F"), GenderFemale},
		{strPtr(" female "), GenderFemale},
		{strPtr("WOMAN"), GenderFemale},
		{strPtr("m"), GenderMale},
		{strPtr("Male"), GenderMale},
		{strPtr("non-binary"), GenderUnknown},
		{strPtr(""), GenderUnknown},
		{nil, GenderUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyGender(tt.input))
	}
}

func TestClassifyGap(t *testing.T) {
	assert.Equal(t, models.RiskThresholdAlert, ClassifyGap(5.0))
	assert.Equal(t, models.RiskThresholdAlert, ClassifyGap(-5.2))
	assert.Equal(t, models.RiskRequiresReview, ClassifyGap(4.0))
	assert.Equal(t, models.RiskRequiresReview, ClassifyGap(-4.5))
	assert.Equal(t, models.RiskWithinExpectedRange, ClassifyGap(3.99))
	assert.Equal(t, models.RiskWithinExpectedRange, ClassifyGap(0))
}

func TestGapPercent(t *testing.T) {
	assert.InDelta(t, 10.0, GapPercent(100, 90), 1e-9)
	assert.InDelta(t, -10.0, GapPercent(100, 110), 1e-9)
	assert.Equal(t, 0.0, GapPercent(0, 50000))
}

func TestComputeGroupResults_MedianScenario(t *testing.T) {
	results := ComputeGroupResults(engineeringSeniorRows())

	require.Len(t, results, 1)
	g := results[0]
	assert.Equal(t, "IE|Engineering|Senior", g.GroupKey)
	assert.Equal(t, 3, g.WomenCount)
	assert.Equal(t, 4, g.MenCount)
	// female median 87000, male median 91500
	assert.Equal(t, 4.9, g.GapPct)
	assert.Equal(t, models.RiskRequiresReview, g.RiskState)
	assert.Nil(t, g.Note)
	require.NotNil(t, g.JobFamily)
	assert.Equal(t, "Engineering", *g.JobFamily)
	assert.False(t, g.UsesRoleFallback)
}

func TestComputeGroupResults_LowSampleUsesMean(t *testing.T) {
	var rows []models.CompensationRow
	for _, s := range []float64{100, 100, 100, 100, 150} {
		rows = append(rows, compRow("DE", "Sales", "Junior", "Rep", "M", s))
	}
	rows = append(rows,
		compRow("DE", "Sales", "Junior", "Rep", "F", 90),
		compRow("DE", "Sales", "Junior", "Rep", "F", 100),
	)

	results := ComputeGroupResults(rows)

	require.Len(t, results, 1)
	g := results[0]
	require.NotNil(t, g.Note)
	assert.Equal(t, models.NoteLowSampleSize, *g.Note)
	// mean male 110, mean female 95: (110-95)/110 = 13.6%; medians would give 5.0
	assert.Equal(t, 13.6, g.GapPct)
	assert.Equal(t, models.RiskThresholdAlert, g.RiskState)
}

func TestComputeGroupResults_ClassifiesRoundedGap(t *testing.T) {
	tests := []struct {
		name   string
		female float64
		gap    float64
		state  models.RiskState
	}{
		{"4.96 rounds up to alert", 95040, 5.0, models.RiskThresholdAlert},
		{"4.94 stays in review", 95060, 4.9, models.RiskRequiresReview},
		{"3.96 rounds up to review", 96040, 4.0, models.RiskRequiresReview},
		{"3.94 stays within range", 96060, 3.9, models.RiskWithinExpectedRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows []models.CompensationRow
			for range 3 {
				rows = append(rows,
					compRow("NL", "Ops", "Mid", "Analyst", "M", 100000),
					compRow("NL", "Ops", "Mid", "Analyst", "F", tt.female))
			}

			results := ComputeGroupResults(rows)

			require.Len(t, results, 1)
			assert.Equal(t, tt.gap, results[0].GapPct)
			assert.Equal(t, tt.state, results[0].RiskState)
			assert.Equal(t, tt.state, ClassifyGap(results[0].GapPct), "state must agree with the stored gap")
		})
	}
}

func TestComputeGroupResults_InsufficientData(t *testing.T) {
	rows := []models.CompensationRow{
		compRow("FR", "Finance", "Lead", "Controller", "male", 120000),
		compRow("FR", "Finance", "Lead", "Controller", "male", 125000),
	}

	results := ComputeGroupResults(rows)

	require.Len(t, results, 1)
	g := results[0]
	require.NotNil(t, g.Note)
	assert.Equal(t, models.NoteInsufficientData, *g.Note)
	assert.Equal(t, 0.0, g.GapPct)
	assert.Equal(t, models.RiskWithinExpectedRange, g.RiskState)
	assert.Equal(t, 0, g.WomenCount)
	assert.Equal(t, 2, g.MenCount)
}

func TestComputeGroupResults_UnknownGenderExcluded(t *testing.T) {
	rows := append(engineeringSeniorRows(),
		compRow("IE", "Engineering", "Senior", "Engineer", "", 10000),
		compRow("IE", "Engineering", "Senior", "Engineer", "prefer not to say", 500000),
		compRow("US", "Legal", "Senior", "Counsel", "X", 200000),
	)

	results := ComputeGroupResults(rows)

	require.Len(t, results, 1, "a group of only unknown-gender employees is never created")
	assert.Equal(t, 3, results[0].WomenCount)
	assert.Equal(t, 4, results[0].MenCount)
	assert.Equal(t, 4.9, results[0].GapPct)
}

func TestComputeGroupResults_RoleTitleFallback(t *testing.T) {
	rows := []models.CompensationRow{
		compRow("IE", "", "Senior", "Designer", "f", 80000),
		compRow("IE", "  ", "Senior", "Designer", "m", 80000),
		compRow("IE", "", "Senior", "Analyst", "f", 70000),
	}

	results := ComputeGroupResults(rows)

	require.Len(t, results, 2)
	designer := findGroup(t, results, "IE|Senior|role:Designer")
	assert.True(t, designer.UsesRoleFallback)
	require.NotNil(t, designer.RoleTitle)
	assert.Equal(t, "Designer", *designer.RoleTitle)
	assert.Nil(t, designer.JobFamily)
	assert.Equal(t, 1, designer.WomenCount)
	assert.Equal(t, 1, designer.MenCount)

	analyst := findGroup(t, results, "IE|Senior|role:Analyst")
	assert.Equal(t, models.NoteInsufficientData, *analyst.Note)
}

func TestComputeGroupResults_ZeroMaleMetric(t *testing.T) {
	rows := []models.CompensationRow{
		compRow("IE", "Ops", "L1", "Intern", "m", 0),
		compRow("IE", "Ops", "L1", "Intern", "f", 1000),
	}
	g := ComputeGroupResults(rows)[0]
	assert.Equal(t, 0.0, g.GapPct)
	assert.Equal(t, models.RiskWithinExpectedRange, g.RiskState)
}

func TestComputeGroupResults_SortedAndEmpty(t *testing.T) {
	assert.Empty(t, ComputeGroupResults(nil))

	rows := []models.CompensationRow{
		compRow("US", "Sales", "L2", "Rep", "m", 1),
		compRow("DE", "Sales", "L2", "Rep", "m", 1),
		compRow("IE", "Sales", "L2", "Rep", "m", 1),
	}
	results := ComputeGroupResults(rows)
	require.Len(t, results, 3)
	assert.Equal(t, "DE|Sales|L2", results[0].GroupKey)
	assert.Equal(t, "IE|Sales|L2", results[1].GroupKey)
	assert.Equal(t, "US|Sales|L2", results[2].GroupKey)
}

func TestMedianAndMean(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 2.5, mean([]float64{1, 2, 3, 4}))

	values := []float64{3, 1, 2}
	median(values)
	assert.Equal(t, []float64{3, 1, 2}, values, "median must not reorder its input")
}

// ============================================================================
// Engine lifecycle
// ============================================================================

type riskEngineFixture struct {
	runs      *memRiskRunRepo
	employees *memEmployeeRepo
	queue     *testQueue
	audit     *recordingAudit
	reg       *prometheus.Registry
	engine    RiskEngine
}

func newRiskEngineFixture(inline bool) *riskEngineFixture {
	return newRiskEngineFixtureWithTenant(inline, passthroughTenant)
}

func newRiskEngineFixtureWithTenant(inline bool, tenant TenantContextFunc) *riskEngineFixture {
	f := &riskEngineFixture{
		runs:      newMemRiskRunRepo(),
		employees: newMemEmployeeRepo(),
		queue:     &testQueue{inline: inline},
		audit:     &recordingAudit{},
		reg:       prometheus.NewRegistry(),
	}
	f.engine = NewRiskEngine(f.runs, f.employees, f.queue, tenant, f.audit,
		metrics.New(f.reg), RiskEngineConfig{PollInterval: time.Millisecond, PollAttempts: 3}, zap.NewNop())
	return f
}

func TestRiskEngine_StartRunComputesInBackground(t *testing.T) {
	f := newRiskEngineFixture(true)
	f.employees.rows = engineeringSeniorRows()
	orgID, jobID := uuid.New(), uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerImport, &jobID)
	require.NoError(t, err)

	assert.Equal(t, []string{"risk-run"}, f.queue.taskNames())
	require.NoError(t, f.queue.errs[0])

	run, err := f.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskRunStatusCompleted, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, &jobID, run.ImportJobID)

	groups, _ := f.runs.ListGroupResults(context.Background(), runID)
	require.Len(t, groups, 1)
	assert.Equal(t, orgID, groups[0].OrgID)
	assert.Equal(t, runID, groups[0].RunID)

	assert.Equal(t, []string{models.AuditActionRiskRunStarted}, f.audit.actions())
	groupSeries, err := testutil.GatherAndCount(f.reg, "paygap_risk_groups_total")
	require.NoError(t, err)
	assert.Equal(t, 1, groupSeries)
}

func TestRiskEngine_StartRunReturnsBeforeComputation(t *testing.T) {
	f := newRiskEngineFixture(false)

	runID, err := f.engine.StartRun(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	run, err := f.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskRunStatusRunning, run.Status)
	assert.Len(t, f.queue.tasks, 1)
}

func TestRiskEngine_StartRunConnectionFailureFailsRun(t *testing.T) {
	f := newRiskEngineFixtureWithTenant(true, failFirstTenant(1))

	runID, err := f.engine.StartRun(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)
	require.Len(t, f.queue.errs, 1)
	assert.ErrorContains(t, f.queue.errs[0], "failed to acquire org connection")

	run, err := f.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskRunStatusFailed, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "connection pool exhausted")
}

func TestRiskEngine_AbandonedRunIsFailed(t *testing.T) {
	f := newRiskEngineFixture(false)

	runID, err := f.engine.StartRun(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)
	require.Len(t, f.queue.tasks, 1)

	abandoner, ok := f.queue.tasks[0].(workqueue.Abandoner)
	require.True(t, ok)
	abandoner.Abandon()

	run, err := f.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskRunStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestRiskEngine_StartRunScheduleFailure(t *testing.T) {
	f := newRiskEngineFixture(false)
	f.queue.err = errors.New("work queue is shut down")

	_, err := f.engine.StartRun(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.Error(t, err)

	require.Len(t, f.runs.runs, 1)
	for _, run := range f.runs.runs {
		assert.Equal(t, models.RiskRunStatusFailed, run.Status)
	}
	assert.Empty(t, f.audit.events)
}

func TestRiskEngine_ComputeFailureMarksRunFailed(t *testing.T) {
	f := newRiskEngineFixture(false)
	loadErr := errors.New("connection reset by peer")
	f.employees.listErr = loadErr
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	err = f.engine.Compute(context.Background(), runID, orgID)
	assert.ErrorIs(t, err, loadErr)

	run, _ := f.runs.GetByID(context.Background(), runID)
	assert.Equal(t, models.RiskRunStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "connection reset")

	groups, _ := f.runs.ListGroupResults(context.Background(), runID)
	assert.Empty(t, groups)
}

func TestRiskEngine_PersistFailureLeavesNoGroups(t *testing.T) {
	f := newRiskEngineFixture(false)
	f.employees.rows = engineeringSeniorRows()
	f.runs.completeErr = errors.New("copy failed")
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	err = f.engine.Compute(context.Background(), runID, orgID)
	require.Error(t, err)

	run, _ := f.runs.GetByID(context.Background(), runID)
	assert.Equal(t, models.RiskRunStatusFailed, run.Status)
	groups, _ := f.runs.ListGroupResults(context.Background(), runID)
	assert.Empty(t, groups)
}

func TestRiskEngine_FailWriteErrorIsSwallowed(t *testing.T) {
	f := newRiskEngineFixture(false)
	loadErr := errors.New("timeout")
	f.employees.listErr = loadErr
	f.runs.failErr = errors.New("database gone")
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	err = f.engine.Compute(context.Background(), runID, orgID)
	assert.ErrorIs(t, err, loadErr, "original error is returned, not the status write failure")
	assert.Equal(t, 1, f.runs.failCalls, "the FAILED write is attempted once and not retried")
}

func TestRiskEngine_ComputeIsNotReentrant(t *testing.T) {
	f := newRiskEngineFixture(true)
	f.employees.rows = engineeringSeniorRows()
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	err = f.engine.Compute(context.Background(), runID, orgID)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	run, _ := f.runs.GetByID(context.Background(), runID)
	assert.Equal(t, models.RiskRunStatusCompleted, run.Status, "a finished run is never re-entered")
	groups, _ := f.runs.ListGroupResults(context.Background(), runID)
	assert.Len(t, groups, 1)
}

func TestRiskEngine_RunSynchronously(t *testing.T) {
	f := newRiskEngineFixture(true)
	f.employees.rows = engineeringSeniorRows()

	run, err := f.engine.RunSynchronously(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RiskRunStatusCompleted, run.Status)
}

func TestRiskEngine_RunSynchronouslyMayReturnRunning(t *testing.T) {
	f := newRiskEngineFixture(false)

	run, err := f.engine.RunSynchronously(context.Background(), uuid.New(), models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RiskRunStatusRunning, run.Status)
}

func TestRiskEngine_RunSynchronouslyHonoursContext(t *testing.T) {
	f := newRiskEngineFixture(false)
	f.engine = NewRiskEngine(f.runs, f.employees, f.queue, passthroughTenant, f.audit,
		nil, RiskEngineConfig{PollInterval: time.Hour, PollAttempts: 3}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.RunSynchronously(ctx, uuid.New(), models.RiskTriggerOnDemand, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRiskEngine_GetRunAndLatest(t *testing.T) {
	f := newRiskEngineFixture(true)
	f.employees.rows = engineeringSeniorRows()
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	view, err := f.engine.GetRun(context.Background(), orgID, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, view.Run.ID)
	assert.Len(t, view.Groups, 1)

	_, err = f.engine.GetRun(context.Background(), uuid.New(), runID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	latest, err := f.engine.LatestRun(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, runID, latest.Run.ID)

	_, err = f.engine.LatestRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRiskEngine_RunningViewHasNoGroups(t *testing.T) {
	f := newRiskEngineFixture(false)
	orgID := uuid.New()

	runID, err := f.engine.StartRun(context.Background(), orgID, models.RiskTriggerOnDemand, nil)
	require.NoError(t, err)

	view, err := f.engine.GetRun(context.Background(), orgID, runID)
	require.NoError(t, err)
	assert.NotNil(t, view.Groups)
	assert.Empty(t, view.Groups)
}
