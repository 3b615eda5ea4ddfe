package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/services"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// UploadResponse is returned after a file has been uploaded and mapped.
type UploadResponse struct {
	ImportID         uuid.UUID            `json:"importId"`
	Status           models.ImportStatus  `json:"status"`
	FileName         string               `json:"fileName"`
	RowCount         int                  `json:"rowCount"`
	DetectedColumns  []string             `json:"detectedColumns"`
	SuggestedMapping models.ColumnMapping `json:"suggestedMapping"`
	SampleData       []map[string]string  `json:"sampleData"`
	Confidence       models.Confidence    `json:"confidence"`
	MappingSource    models.MappingSource `json:"mappingSource"`
}

// ConfirmResponse is returned when execution has been scheduled.
type ConfirmResponse struct {
	ImportID uuid.UUID           `json:"importId"`
	Status   models.ImportStatus `json:"status"`
}

// ImportStatusResponse reports an import's progress or outcome.
type ImportStatusResponse struct {
	ImportID     uuid.UUID           `json:"importId"`
	Status       models.ImportStatus `json:"status"`
	FileName     string              `json:"fileName"`
	RowCount     int                 `json:"rowCount"`
	CreatedCount int                 `json:"createdCount"`
	UpdatedCount int                 `json:"updatedCount"`
	ErrorCount   int                 `json:"errorCount"`
	Errors       []models.RowError   `json:"errors"`
	ErrorMessage *string             `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
}

type mappingRequest struct {
	Mapping models.ColumnMapping `json:"mapping" validate:"required"`
}

// ImportsHandler handles upload, mapping and import status requests.
type ImportsHandler struct {
	imports        services.ImportService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(imports services.ImportService, maxUploadBytes int64, logger *zap.Logger) *ImportsHandler {
	return &ImportsHandler{
		imports:        imports,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the imports handler's routes on the given mux.
func (h *ImportsHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/orgs/{oid}/imports"

	mux.HandleFunc("POST "+base, tenantMiddleware(h.Upload))
	mux.HandleFunc("GET "+base+"/{iid}", tenantMiddleware(h.GetStatus))
	mux.HandleFunc("POST "+base+"/{iid}/preview", tenantMiddleware(h.Preview))
	mux.HandleFunc("POST "+base+"/{iid}/confirm", tenantMiddleware(h.Confirm))
}

// Upload handles POST /api/orgs/{oid}/imports
// The file is sent as multipart field "file". Query parameters:
// assist_timeout_ms bounds the assisted mapping call, assist=false skips it.
func (h *ImportsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	opts, ok := h.resolveOptions(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "Upload exceeds the maximum file size")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing_file", "Form field \"file\" is required")
		return
	}
	defer file.Close()

	result, err := h.imports.Upload(r.Context(), orgID, header.Filename, file, opts)
	if err != nil {
		writeServiceError(w, err, h.logger, "upload file")
		return
	}

	writeData(w, http.StatusCreated, UploadResponse{
		ImportID:         result.Job.ID,
		Status:           result.Job.Status,
		FileName:         result.Job.FileName,
		RowCount:         result.Job.RowCount,
		DetectedColumns:  result.Job.DetectedColumns,
		SuggestedMapping: result.Mapping.Mapping,
		SampleData:       result.SampleRows,
		Confidence:       result.Mapping.Confidence,
		MappingSource:    result.Mapping.Source,
	}, h.logger)
}

func (h *ImportsHandler) resolveOptions(w http.ResponseWriter, r *http.Request) (services.ResolveOptions, bool) {
	var opts services.ResolveOptions
	query := r.URL.Query()

	if raw := query.Get("assist_timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_parameters", "assist_timeout_ms must be a positive integer")
			return opts, false
		}
		opts.AssistTimeout = time.Duration(ms) * time.Millisecond
	}
	if raw := query.Get("assist"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_parameters", "assist must be true or false")
			return opts, false
		}
		opts.DisableAssist = !enabled
	}
	return opts, true
}

// Preview handles POST /api/orgs/{oid}/imports/{iid}/preview
func (h *ImportsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	orgID, importID, ok := ParseOrgAndImportIDs(w, r, h.logger)
	if !ok {
		return
	}

	var req mappingRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	preview, err := h.imports.Preview(r.Context(), orgID, importID, req.Mapping)
	if err != nil {
		writeServiceError(w, err, h.logger, "preview import")
		return
	}

	writeData(w, http.StatusOK, preview, h.logger)
}

// Confirm handles POST /api/orgs/{oid}/imports/{iid}/confirm
// Returns 202 once execution is scheduled; progress is read from GetStatus.
func (h *ImportsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	orgID, importID, ok := ParseOrgAndImportIDs(w, r, h.logger)
	if !ok {
		return
	}

	var req mappingRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	job, err := h.imports.Confirm(r.Context(), orgID, importID, req.Mapping)
	if err != nil {
		writeServiceError(w, err, h.logger, "confirm import")
		return
	}

	writeData(w, http.StatusAccepted, ConfirmResponse{ImportID: job.ID, Status: job.Status}, h.logger)
}

// GetStatus handles GET /api/orgs/{oid}/imports/{iid}
func (h *ImportsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orgID, importID, ok := ParseOrgAndImportIDs(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.imports.GetStatus(r.Context(), orgID, importID)
	if err != nil {
		writeServiceError(w, err, h.logger, "get import status")
		return
	}

	rowErrors := job.RowErrors
	if rowErrors == nil {
		rowErrors = []models.RowError{}
	}
	writeData(w, http.StatusOK, ImportStatusResponse{
		ImportID:     job.ID,
		Status:       job.Status,
		FileName:     job.FileName,
		RowCount:     job.RowCount,
		CreatedCount: job.CreatedCount,
		UpdatedCount: job.UpdatedCount,
		ErrorCount:   job.ErrorCount,
		Errors:       rowErrors,
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}, h.logger)
}

func (h *ImportsHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
