package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/services"
)

// StartRunResponse identifies a started (or synchronously finished) run.
type StartRunResponse struct {
	RunID  uuid.UUID            `json:"runId"`
	Status models.RiskRunStatus `json:"status"`
}

type startRunRequest struct {
	// Wait polls until the run finishes or the poll budget runs out.
	Wait bool `json:"wait"`
}

type reportRequest struct {
	OrgName string `json:"orgName" validate:"max=200"`
}

// RiskRunsHandler handles risk run and narrative report requests.
type RiskRunsHandler struct {
	engine  services.RiskEngine
	reports services.ReportService
	logger  *zap.Logger
}

// NewRiskRunsHandler creates a new risk runs handler.
func NewRiskRunsHandler(engine services.RiskEngine, reports services.ReportService, logger *zap.Logger) *RiskRunsHandler {
	return &RiskRunsHandler{
		engine:  engine,
		reports: reports,
		logger:  logger,
	}
}

// RegisterRoutes registers the risk runs handler's routes on the given mux.
func (h *RiskRunsHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/orgs/{oid}/risk-runs"

	mux.HandleFunc("POST "+base, tenantMiddleware(h.StartRun))
	mux.HandleFunc("GET "+base+"/latest", tenantMiddleware(h.GetLatest))
	mux.HandleFunc("GET "+base+"/{rid}", tenantMiddleware(h.GetRun))
	mux.HandleFunc("POST "+base+"/{rid}/report", tenantMiddleware(h.GenerateReport))
}

// StartRun handles POST /api/orgs/{oid}/risk-runs
// An empty body starts the run in the background.
func (h *RiskRunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	var req startRunRequest
	if !decodeOptionalBody(w, r, &req, h.logger) {
		return
	}

	if !req.Wait {
		runID, err := h.engine.StartRun(r.Context(), orgID, models.RiskTriggerOnDemand, nil)
		if err != nil {
			writeServiceError(w, err, h.logger, "start risk run")
			return
		}
		writeData(w, http.StatusAccepted, StartRunResponse{RunID: runID, Status: models.RiskRunStatusRunning}, h.logger)
		return
	}

	run, err := h.engine.RunSynchronously(r.Context(), orgID, models.RiskTriggerOnDemand, nil)
	if err != nil {
		writeServiceError(w, err, h.logger, "run risk computation")
		return
	}
	status := http.StatusOK
	if !run.Status.IsTerminal() {
		status = http.StatusAccepted
	}
	writeData(w, status, StartRunResponse{RunID: run.ID, Status: run.Status}, h.logger)
}

// GetRun handles GET /api/orgs/{oid}/risk-runs/{rid}
func (h *RiskRunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.engine.GetRun(r.Context(), orgID, runID)
	if err != nil {
		writeServiceError(w, err, h.logger, "get risk run")
		return
	}
	writeData(w, http.StatusOK, view, h.logger)
}

// GetLatest handles GET /api/orgs/{oid}/risk-runs/latest
func (h *RiskRunsHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.engine.LatestRun(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, h.logger, "get latest risk run")
		return
	}
	writeData(w, http.StatusOK, view, h.logger)
}

// GenerateReport handles POST /api/orgs/{oid}/risk-runs/{rid}/report
// Responds 204 when no usable report could be generated.
func (h *RiskRunsHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	var req reportRequest
	if !decodeOptionalBody(w, r, &req, h.logger) {
		return
	}

	report, err := h.reports.Generate(r.Context(), orgID, runID, req.OrgName)
	if err != nil {
		writeServiceError(w, err, h.logger, "generate report")
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeData(w, http.StatusCreated, report, h.logger)
}

// decodeOptionalBody is decodeBody that accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		if writeErr := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); writeErr != nil {
			logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return decodeBody(w, r, dst, logger)
}
