package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorType indicates which part of the provider setup or exchange failed.
type ErrorType string

const (
	ErrorTypeNone      ErrorType = ""
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeResponse  ErrorType = "response"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeCircuit   ErrorType = "circuit_open"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
	Endpoint   string    // Endpoint URL if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable lets the retry package check retryability without importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with additional context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

// classification maps an error message fragment to a category. Rules are
// checked in order; the first match wins.
type classification struct {
	fragments []string
	errType   ErrorType
	message   string
	retryable bool
}

var classifications = []classification{
	{[]string{"401", "unauthorized", "invalid api key", "invalid x-api-key", "authentication_error"}, ErrorTypeAuth, "authentication failed", false},
	{[]string{"403", "permission_error"}, ErrorTypeAuth, "permission denied", false},
	{[]string{"model_not_found", "does not exist"}, ErrorTypeModel, "model not found", false},
	{[]string{"404"}, ErrorTypeEndpoint, "endpoint not found", false},
	{[]string{"connection refused", "no such host", "connection reset"}, ErrorTypeEndpoint, "connection failed", true},
	{[]string{"deadline exceeded", "timeout", "context canceled"}, ErrorTypeTimeout, "request timeout", true},
	{[]string{"429", "rate limit", "rate_limit_error"}, ErrorTypeRateLimit, "rate limited", true},
	// Anthropic sheds load with HTTP 529 "overloaded_error".
	{[]string{"529", "overloaded"}, ErrorTypeEndpoint, "provider overloaded", true},
	{[]string{"500", "502", "503", "504"}, ErrorTypeEndpoint, "server error", true},
}

// ClassifyError categorizes a transport or provider error. The OpenAI SDK's
// typed errors supply the HTTP status directly; everything else, including
// the Anthropic SDK's errors, is classified from the message text.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	statusCode := statusCodeOf(err)
	lower := strings.ToLower(err.Error())
	if statusCode > 0 {
		lower = fmt.Sprintf("%d %s", statusCode, lower)
	}

	// "model ... not found" needs both words, so it is checked before the table.
	if strings.Contains(lower, "model") && strings.Contains(lower, "not found") {
		llmErr = NewError(ErrorTypeModel, "model not found", false, err)
		llmErr.StatusCode = statusCode
		return llmErr
	}

	for _, c := range classifications {
		for _, fragment := range c.fragments {
			if strings.Contains(lower, fragment) {
				llmErr = NewError(c.errType, c.message, c.retryable, err)
				llmErr.StatusCode = statusCode
				return llmErr
			}
		}
	}

	llmErr = NewError(ErrorTypeUnknown, "llm error", false, err)
	llmErr.StatusCode = statusCode
	return llmErr
}

// statusCodes are the HTTP statuses recognised in untyped error messages.
var statusCodes = []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode
	}

	msg := err.Error()
	for _, code := range statusCodes {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
