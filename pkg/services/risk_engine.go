package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
	"github.com/ekaya-inc/paygap-engine/pkg/services/workqueue"
)

// Classification thresholds on |gap %|.
const (
	thresholdAlertPct   = 5.0
	requiresReviewPct   = 4.0
	minMedianSampleSize = 3
)

// Gender is the classification used for grouping.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderFemale
	GenderMale
)

var genderSynonyms = map[string]Gender{
	"f":         GenderFemale,
	"female":    GenderFemale,
	"woman":     GenderFemale,
	"women":     GenderFemale,
	"w":         GenderFemale,
	"femme":     GenderFemale,
	"feminine":  GenderFemale,
	"m":         GenderMale,
	"male":      GenderMale,
	"man":       GenderMale,
	"men":       GenderMale,
	"homme":     GenderMale,
	"masculine": GenderMale,
}

// ClassifyGender maps a free-text gender value to female, male or unknown.
// Matching is case-insensitive; anything else, including nil, is unknown.
func ClassifyGender(raw *string) Gender {
	if raw == nil {
		return GenderUnknown
	}
	return genderSynonyms[strings.ToLower(strings.TrimSpace(*raw))]
}

// TaskEnqueuer schedules background work. *workqueue.Queue satisfies it.
type TaskEnqueuer interface {
	Enqueue(task workqueue.Task) error
}

// RiskRunStarter starts a risk run without waiting for it.
type RiskRunStarter interface {
	StartRun(ctx context.Context, orgID uuid.UUID, trigger string, importJobID *uuid.UUID) (uuid.UUID, error)
}

// RiskEngine computes pay-gap risk over comparator groups.
type RiskEngine interface {
	RiskRunStarter

	// RunSynchronously starts a run and polls until it finishes or the poll
	// budget is spent. The returned run may still be RUNNING.
	RunSynchronously(ctx context.Context, orgID uuid.UUID, trigger string, importJobID *uuid.UUID) (*models.RiskRun, error)

	// Compute performs the run. On failure the run is marked FAILED on a
	// best-effort basis and the original error is returned.
	Compute(ctx context.Context, runID, orgID uuid.UUID) error

	GetRun(ctx context.Context, orgID, runID uuid.UUID) (*models.RiskRunView, error)
	LatestRun(ctx context.Context, orgID uuid.UUID) (*models.RiskRunView, error)
}

// RiskEngineConfig holds the poll settings of RunSynchronously.
type RiskEngineConfig struct {
	PollInterval time.Duration
	PollAttempts int
}

type riskEngine struct {
	runRepo      repositories.RiskRunRepository
	employeeRepo repositories.EmployeeRepository
	queue        TaskEnqueuer
	getTenantCtx TenantContextFunc
	audit        AuditSink
	metrics      *metrics.Metrics
	cfg          RiskEngineConfig
	logger       *zap.Logger
}

// NewRiskEngine creates a RiskEngine.
func NewRiskEngine(
	runRepo repositories.RiskRunRepository,
	employeeRepo repositories.EmployeeRepository,
	queue TaskEnqueuer,
	getTenantCtx TenantContextFunc,
	audit AuditSink,
	m *metrics.Metrics,
	cfg RiskEngineConfig,
	logger *zap.Logger,
) RiskEngine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 60
	}
	return &riskEngine{
		runRepo:      runRepo,
		employeeRepo: employeeRepo,
		queue:        queue,
		getTenantCtx: getTenantCtx,
		audit:        audit,
		metrics:      m,
		cfg:          cfg,
		logger:       logger.Named("risk-engine"),
	}
}

var _ RiskEngine = (*riskEngine)(nil)

func (e *riskEngine) StartRun(ctx context.Context, orgID uuid.UUID, trigger string, importJobID *uuid.UUID) (uuid.UUID, error) {
	run := &models.RiskRun{
		OrgID:       orgID,
		Trigger:     trigger,
		ImportJobID: importJobID,
	}
	if err := e.runRepo.Create(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create risk run: %w", err)
	}

	runID := run.ID
	actor := models.ActorFromContext(ctx)
	task := workqueue.NewFuncTask("risk-run", false, func(taskCtx context.Context) error {
		tenantCtx, cleanup, err := WithActorWrapper(e.getTenantCtx, actor)(taskCtx, orgID)
		if err != nil {
			err = fmt.Errorf("failed to acquire org connection: %w", err)
			e.failDetached(taskCtx, runID, orgID, actor, trigger, err.Error())
			return err
		}
		defer cleanup()
		return e.Compute(tenantCtx, runID, orgID)
	}).WithOnAbandon(func() {
		e.failDetached(ctx, runID, orgID, actor, trigger, "cancelled before start: service shutting down")
	})

	if err := e.queue.Enqueue(task); err != nil {
		if failErr := e.runRepo.Fail(ctx, runID, "could not schedule computation"); failErr != nil {
			e.logger.Warn("Failed to mark unscheduled run as failed",
				zap.String("run_id", runID.String()),
				zap.Error(failErr))
		}
		return uuid.Nil, fmt.Errorf("failed to schedule risk run: %w", err)
	}

	e.logger.Info("Risk run started",
		zap.String("org_id", orgID.String()),
		zap.String("run_id", runID.String()),
		zap.String("trigger", trigger))

	details := map[string]any{"trigger": trigger}
	if importJobID != nil {
		details["import_job_id"] = importJobID.String()
	}
	e.audit.Emit(ctx, models.AuditEvent{
		OrgID:      orgID,
		Action:     models.AuditActionRiskRunStarted,
		EntityType: "risk_run",
		EntityID:   runID,
		Details:    details,
	})

	return runID, nil
}

// failDetached marks a run FAILED when Compute never got to run. The write
// uses a fresh org connection since the task's context may already be done.
func (e *riskEngine) failDetached(ctx context.Context, runID, orgID uuid.UUID, actor, trigger, message string) {
	err := runDetached(ctx, e.getTenantCtx, orgID, actor, func(tenantCtx context.Context) error {
		return e.runRepo.Fail(tenantCtx, runID, message)
	})
	if err != nil {
		e.logger.Warn("Failed to mark risk run as failed",
			zap.String("run_id", runID.String()),
			zap.Error(err))
		return
	}
	e.metrics.RiskRunFinished(string(models.RiskRunStatusFailed), trigger, 0)
}

func (e *riskEngine) RunSynchronously(ctx context.Context, orgID uuid.UUID, trigger string, importJobID *uuid.UUID) (*models.RiskRun, error) {
	runID, err := e.StartRun(ctx, orgID, trigger, importJobID)
	if err != nil {
		return nil, err
	}

	var run *models.RiskRun
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}

		run, err = e.runRepo.GetByID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll risk run: %w", err)
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
	}

	e.logger.Warn("Risk run still running after poll budget",
		zap.String("run_id", runID.String()),
		zap.Int("attempts", e.cfg.PollAttempts))
	return run, nil
}

func (e *riskEngine) Compute(ctx context.Context, runID, orgID uuid.UUID) error {
	start := time.Now()

	trigger := ""
	results, err := func() ([]*models.ComparatorGroupResult, error) {
		run, err := e.runRepo.GetByID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load risk run: %w", err)
		}
		trigger = run.Trigger

		rows, err := e.employeeRepo.ListCompensation(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to load employees: %w", err)
		}

		results := ComputeGroupResults(rows)
		for _, res := range results {
			res.OrgID = orgID
		}
		if err := e.runRepo.Complete(ctx, runID, results); err != nil {
			return nil, fmt.Errorf("failed to persist group results: %w", err)
		}
		return results, nil
	}()

	if err != nil {
		e.logger.Error("Risk run failed",
			zap.String("org_id", orgID.String()),
			zap.String("run_id", runID.String()),
			zap.Error(err))
		// the task context may already be cancelled; the status write must still go out
		if failErr := e.runRepo.Fail(context.WithoutCancel(ctx), runID, err.Error()); failErr != nil {
			e.logger.Warn("Failed to mark risk run as failed",
				zap.String("run_id", runID.String()),
				zap.Error(failErr))
		}
		e.metrics.RiskRunFinished(string(models.RiskRunStatusFailed), trigger, time.Since(start))
		return err
	}

	for _, res := range results {
		e.metrics.RiskGroupClassified(string(res.RiskState))
	}
	e.metrics.RiskRunFinished(string(models.RiskRunStatusCompleted), trigger, time.Since(start))

	e.logger.Info("Risk run completed",
		zap.String("org_id", orgID.String()),
		zap.String("run_id", runID.String()),
		zap.Int("group_count", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (e *riskEngine) GetRun(ctx context.Context, orgID, runID uuid.UUID) (*models.RiskRunView, error) {
	run, err := e.runRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.OrgID != orgID {
		return nil, apperrors.ErrNotFound
	}
	return e.view(ctx, run)
}

func (e *riskEngine) LatestRun(ctx context.Context, orgID uuid.UUID) (*models.RiskRunView, error) {
	run, err := e.runRepo.GetLatest(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, run)
}

func (e *riskEngine) view(ctx context.Context, run *models.RiskRun) (*models.RiskRunView, error) {
	view := &models.RiskRunView{Run: run, Groups: []*models.ComparatorGroupResult{}}
	if run.Status != models.RiskRunStatusCompleted {
		return view, nil
	}
	groups, err := e.runRepo.ListGroupResults(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group results: %w", err)
	}
	if groups != nil {
		view.Groups = groups
	}
	return view, nil
}

type groupSalaries struct {
	key    models.ComparatorGroupKey
	female []float64
	male   []float64
}

// ComputeGroupResults groups employees of known gender by comparator key and
// computes each group's gap and classification. Results are ordered by group key.
func ComputeGroupResults(rows []models.CompensationRow) []*models.ComparatorGroupResult {
	groups := make(map[models.ComparatorGroupKey]*groupSalaries)

	for _, row := range rows {
		gender := ClassifyGender(row.Gender)
		if gender == GenderUnknown {
			continue
		}

		key := comparatorKey(row)
		g, ok := groups[key]
		if !ok {
			g = &groupSalaries{key: key}
			groups[key] = g
		}
		if gender == GenderFemale {
			g.female = append(g.female, row.BaseSalary)
		} else {
			g.male = append(g.male, row.BaseSalary)
		}
	}

	results := make([]*models.ComparatorGroupResult, 0, len(groups))
	for _, g := range groups {
		results = append(results, groupResult(g))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].GroupKey < results[j].GroupKey })
	return results
}

func comparatorKey(row models.CompensationRow) models.ComparatorGroupKey {
	key := models.ComparatorGroupKey{
		Country: strings.TrimSpace(row.Country),
		Level:   strings.TrimSpace(row.Level),
	}
	if row.JobFamily != nil && strings.TrimSpace(*row.JobFamily) != "" {
		key.JobFamily = strings.TrimSpace(*row.JobFamily)
		return key
	}
	key.RoleTitle = strings.TrimSpace(row.RoleTitle)
	key.UsesRoleFallback = true
	return key
}

func groupResult(g *groupSalaries) *models.ComparatorGroupResult {
	res := &models.ComparatorGroupResult{
		GroupKey:         g.key.String(),
		Country:          g.key.Country,
		Level:            g.key.Level,
		UsesRoleFallback: g.key.UsesRoleFallback,
		WomenCount:       len(g.female),
		MenCount:         len(g.male),
	}
	if g.key.UsesRoleFallback {
		role := g.key.RoleTitle
		res.RoleTitle = &role
	} else {
		family := g.key.JobFamily
		res.JobFamily = &family
	}

	if len(g.female) == 0 || len(g.male) == 0 {
		note := models.NoteInsufficientData
		res.Note = &note
		res.GapPct = 0
		res.RiskState = models.RiskWithinExpectedRange
		return res
	}

	var femaleMetric, maleMetric float64
	if len(g.female) >= minMedianSampleSize && len(g.male) >= minMedianSampleSize {
		femaleMetric, maleMetric = median(g.female), median(g.male)
	} else {
		femaleMetric, maleMetric = mean(g.female), mean(g.male)
		note := models.NoteLowSampleSize
		res.Note = &note
	}

	// classify the stored value so a displayed 5.0 is never below the alert line
	res.GapPct = math.Round(GapPercent(maleMetric, femaleMetric)*10) / 10
	res.RiskState = ClassifyGap(res.GapPct)
	return res
}

// GapPercent returns (male - female) / male * 100, or 0 when male is 0.
// Positive means men are paid more.
func GapPercent(maleMetric, femaleMetric float64) float64 {
	if maleMetric == 0 {
		return 0
	}
	return (maleMetric - femaleMetric) / maleMetric * 100
}

// ClassifyGap maps a gap percentage to a risk state by its magnitude.
func ClassifyGap(gapPct float64) models.RiskState {
	abs := math.Abs(gapPct)
	switch {
	case abs >= thresholdAlertPct:
		return models.RiskThresholdAlert
	case abs >= requiresReviewPct:
		return models.RiskRequiresReview
	default:
		return models.RiskWithinExpectedRange
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
