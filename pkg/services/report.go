package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/llm"
	"github.com/ekaya-inc/paygap-engine/pkg/logging"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/prompts"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
)

const (
	minReportLength      = 200
	defaultReportTimeout = 300 * time.Second
	reportAssistCallName = "report"
	reportTemperature    = 0.3
)

// Report attempt outcomes recorded in metrics.
const (
	reportOutcomeGenerated = "generated"
	reportOutcomeEmpty     = "empty"
	reportOutcomeFailed    = "failed"
)

// ReportDraft is generated summary text ready to be persisted.
type ReportDraft struct {
	Summary     string
	Model       string
	GeneratedAt time.Time
}

// ReportBuilder asks the text-generation collaborator for a narrative summary.
type ReportBuilder interface {
	// Build returns nil with no error when no usable report came back.
	// Only empty input is an error.
	Build(ctx context.Context, results []*models.ComparatorGroupResult, orgName string) (*ReportDraft, error)
}

type reportBuilder struct {
	client  llm.LLMClient
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewReportBuilder creates a ReportBuilder. A nil client never produces a report.
func NewReportBuilder(client llm.LLMClient, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) ReportBuilder {
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	return &reportBuilder{
		client:  client,
		timeout: timeout,
		metrics: m,
		logger:  logger.Named("report-builder"),
	}
}

var _ ReportBuilder = (*reportBuilder)(nil)

func (b *reportBuilder) Build(ctx context.Context, results []*models.ComparatorGroupResult, orgName string) (*ReportDraft, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no group results to report on: %w", apperrors.ErrInvalidInput)
	}
	if b.client == nil {
		b.metrics.ReportAttempted(reportOutcomeEmpty)
		return nil, nil
	}

	prompt := prompts.BuildPayGapReportPrompt(groupContexts(results), orgName)
	resp, err := llm.GenerateWithTimeout(ctx, b.client, b.timeout, prompt, prompts.PayGapReportSystemMessage, reportTemperature)
	if err != nil {
		errType := llm.GetErrorType(err)
		b.logger.Warn("Narrative report request failed",
			zap.Int("group_count", len(results)),
			zap.String("error_type", string(errType)),
			logging.ErrorField(err))
		b.metrics.AssistFailed(reportAssistCallName, string(errType))
		b.metrics.ReportAttempted(reportOutcomeFailed)
		return nil, nil
	}

	summary := llm.CleanText(resp.Content)
	if len(summary) < minReportLength {
		b.logger.Warn("Narrative report too short, discarding",
			zap.Int("length", len(summary)),
			zap.Int("min_length", minReportLength))
		b.metrics.ReportAttempted(reportOutcomeEmpty)
		return nil, nil
	}

	b.metrics.ReportAttempted(reportOutcomeGenerated)
	return &ReportDraft{
		Summary:     summary,
		Model:       b.client.GetModel(),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func groupContexts(results []*models.ComparatorGroupResult) []prompts.GroupContext {
	out := make([]prompts.GroupContext, 0, len(results))
	for _, r := range results {
		parts := []string{r.Country}
		if r.JobFamily != nil {
			parts = append(parts, *r.JobFamily)
		}
		parts = append(parts, r.Level)
		if r.UsesRoleFallback && r.RoleTitle != nil {
			parts = append(parts, "role: "+*r.RoleTitle)
		}

		gc := prompts.GroupContext{
			Label:      strings.Join(parts, " / "),
			WomenCount: r.WomenCount,
			MenCount:   r.MenCount,
			GapPct:     r.GapPct,
			RiskState:  string(r.RiskState),
		}
		if r.Note != nil {
			gc.Note = *r.Note
		}
		out = append(out, gc)
	}
	return out
}

// ReportService generates and stores narrative reports for completed runs.
type ReportService interface {
	// Generate returns nil with no error when the builder produced nothing.
	Generate(ctx context.Context, orgID, runID uuid.UUID, orgName string) (*models.NarrativeReport, error)
}

type reportService struct {
	runRepo    repositories.RiskRunRepository
	reportRepo repositories.NarrativeReportRepository
	builder    ReportBuilder
	audit      AuditSink
	logger     *zap.Logger
}

// NewReportService creates a ReportService.
func NewReportService(
	runRepo repositories.RiskRunRepository,
	reportRepo repositories.NarrativeReportRepository,
	builder ReportBuilder,
	audit AuditSink,
	logger *zap.Logger,
) ReportService {
	return &reportService{
		runRepo:    runRepo,
		reportRepo: reportRepo,
		builder:    builder,
		audit:      audit,
		logger:     logger.Named("report-service"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) Generate(ctx context.Context, orgID, runID uuid.UUID, orgName string) (*models.NarrativeReport, error) {
	run, err := s.runRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.OrgID != orgID {
		return nil, apperrors.ErrNotFound
	}
	if run.Status != models.RiskRunStatusCompleted {
		return nil, fmt.Errorf("risk run is %s: %w", run.Status, apperrors.ErrInvalidState)
	}

	results, err := s.runRepo.ListGroupResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group results: %w", err)
	}

	draft, err := s.builder.Build(ctx, results, orgName)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, nil
	}

	report := &models.NarrativeReport{
		OrgID:       orgID,
		RunID:       runID,
		Summary:     draft.Summary,
		Model:       draft.Model,
		GeneratedAt: draft.GeneratedAt,
	}
	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save narrative report: %w", err)
	}

	s.logger.Info("Narrative report generated",
		zap.String("org_id", orgID.String()),
		zap.String("run_id", runID.String()),
		zap.String("model", report.Model))
	s.audit.Emit(ctx, models.AuditEvent{
		OrgID:      orgID,
		Action:     models.AuditActionReportGenerated,
		EntityType: "narrative_report",
		EntityID:   report.ID,
		Details:    map[string]any{"run_id": runID.String()},
	})
	return report, nil
}
