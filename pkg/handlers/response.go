package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
)

// ApiResponse wraps successful response bodies.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

var validate = validator.New()

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes data wrapped in a successful ApiResponse.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeServiceError maps a service error onto an HTTP status. Unexpected
// errors are logged and reported as internal errors with a generic message.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger, action string) {
	var (
		status = http.StatusInternalServerError
		code   = "internal_error"
		msg    = "Failed to " + action
	)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "Resource not found"
	case errors.Is(err, apperrors.ErrInvalidState):
		status, code, msg = http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, code, msg = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code, msg = http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, apperrors.ErrEmptyInput):
		status, code, msg = http.StatusBadRequest, "empty_file", "The file has no rows"
	case errors.Is(err, apperrors.ErrUnsupportedFormat):
		status, code, msg = http.StatusUnsupportedMediaType, "unsupported_format", "Only CSV and XLSX files are supported"
	default:
		logger.Error("Request failed", zap.String("action", action), zap.Error(err))
	}

	if writeErr := ErrorResponse(w, status, code, msg); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

// decodeBody decodes and validates a JSON request body. On failure it writes a
// 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if writeErr := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); writeErr != nil {
			logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return false
	}
	if err := validate.Struct(dst); err != nil {
		if writeErr := ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", err.Error()); writeErr != nil {
			logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return false
	}
	return true
}
