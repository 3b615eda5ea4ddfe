package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/services"
)

var (
	_ services.ImportService = (*mockImportService)(nil)
	_ services.RiskEngine    = (*mockRiskEngine)(nil)
	_ services.ReportService = (*mockReportService)(nil)
)

// passthroughTenant stands in for database.WithTenantContext.
func passthroughTenant(next http.HandlerFunc) http.HandlerFunc { return next }

type mockImportService struct {
	uploadResult *services.UploadResult
	preview      *services.PreviewResult
	job          *models.ImportJob
	err          error

	gotOrgID    uuid.UUID
	gotFileName string
	gotContent  string
	gotOpts     services.ResolveOptions
	gotMapping  models.ColumnMapping
}

func (m *mockImportService) Upload(_ context.Context, orgID uuid.UUID, fileName string, content io.Reader, opts services.ResolveOptions) (*services.UploadResult, error) {
	m.gotOrgID, m.gotFileName, m.gotOpts = orgID, fileName, opts
	b, _ := io.ReadAll(content)
	m.gotContent = string(b)
	return m.uploadResult, m.err
}

func (m *mockImportService) Preview(_ context.Context, orgID, _ uuid.UUID, mapping models.ColumnMapping) (*services.PreviewResult, error) {
	m.gotOrgID, m.gotMapping = orgID, mapping
	return m.preview, m.err
}

func (m *mockImportService) Confirm(_ context.Context, orgID, _ uuid.UUID, mapping models.ColumnMapping) (*models.ImportJob, error) {
	m.gotOrgID, m.gotMapping = orgID, mapping
	return m.job, m.err
}

func (m *mockImportService) GetStatus(_ context.Context, orgID, _ uuid.UUID) (*models.ImportJob, error) {
	m.gotOrgID = orgID
	return m.job, m.err
}

type mockRiskEngine struct {
	runID   uuid.UUID
	run     *models.RiskRun
	view    *models.RiskRunView
	err     error
	started int
	synced  int
	gotRun  uuid.UUID
	trigger string
}

func (m *mockRiskEngine) StartRun(_ context.Context, _ uuid.UUID, trigger string, _ *uuid.UUID) (uuid.UUID, error) {
	m.started++
	m.trigger = trigger
	return m.runID, m.err
}

func (m *mockRiskEngine) RunSynchronously(_ context.Context, _ uuid.UUID, trigger string, _ *uuid.UUID) (*models.RiskRun, error) {
	m.synced++
	m.trigger = trigger
	return m.run, m.err
}

func (m *mockRiskEngine) Compute(context.Context, uuid.UUID, uuid.UUID) error {
	return m.err
}

func (m *mockRiskEngine) GetRun(_ context.Context, _ uuid.UUID, runID uuid.UUID) (*models.RiskRunView, error) {
	m.gotRun = runID
	return m.view, m.err
}

func (m *mockRiskEngine) LatestRun(context.Context, uuid.UUID) (*models.RiskRunView, error) {
	return m.view, m.err
}

type mockReportService struct {
	report     *models.NarrativeReport
	err        error
	gotOrgName string
}

func (m *mockReportService) Generate(_ context.Context, _, _ uuid.UUID, orgName string) (*models.NarrativeReport, error) {
	m.gotOrgName = orgName
	return m.report, m.err
}
