package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/database"
)

// TenantMiddleware wraps a handler with an org-scoped database connection.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ParseOrgID extracts and validates the organization ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: oid
func ParseOrgID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, database.OrgPathParam, "invalid_org_id", "Invalid organization ID format", logger)
}

// ParseImportID extracts and validates the import job ID from the request path.
// Expects path parameter: iid
func ParseImportID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "iid", "invalid_import_id", "Invalid import ID format", logger)
}

// ParseRunID extracts and validates the risk run ID from the request path.
// Expects path parameter: rid
func ParseRunID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "rid", "invalid_run_id", "Invalid risk run ID format", logger)
}

// ParseOrgAndImportIDs extracts and validates both organization and import IDs.
func ParseOrgAndImportIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := ParseOrgID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	importID, ok := ParseImportID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return orgID, importID, true
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
