// Package apperr defines the error taxonomy of the sync pipeline. Each code
// implies a recovery policy; only invariant violations abort a run.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, grouped by recovery policy.
const (
	// Retried with backoff, task fails after N attempts.
	CodeTransientNetwork = "TRANSIENT_NETWORK"

	// Aborts the task immediately; never retried.
	CodeAuthFailed = "AUTH_FAILED"

	// Record skipped, batch continues.
	CodeParseSkip  = "PARSE_SKIP"
	CodeValidation = "VALIDATION"

	// Silent no-op; a counter increments.
	CodeDuplicate = "DUPLICATE"

	// Falls through to the next cascade layer.
	CodeProviderQuota = "PROVIDER_QUOTA"

	// Single row rolled back, batch continues.
	CodeStorageConflict = "STORAGE_CONFLICT"

	// Bug. Aborts and rolls back the run; never swallowed.
	CodeInvariant = "INVARIANT"

	CodeNotFound   = "NOT_FOUND"
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code for the API layer.
func (e *AppError) HTTPStatus() int { return e.Status }

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Transient wraps a retryable network failure.
func Transient(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeTransientNetwork,
		Message: fmt.Sprintf("transient failure: %s", operation),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// AuthFailed wraps a credential failure with the mail or LLM provider.
func AuthFailed(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthFailed,
		Message: fmt.Sprintf("authentication failed: %s", provider),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// ParseSkip marks a record the parser could not understand. The batch logs a
// sample of the input and moves on.
func ParseSkip(source string, err error) *AppError {
	return &AppError{
		Code:    CodeParseSkip,
		Message: fmt.Sprintf("unparseable record: %s", source),
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// Validation marks a record with unusable field values (bad amount, future
// date). The source message is flagged.
func Validation(field, reason string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Duplicate marks an email_id that already exists.
func Duplicate(emailID string) *AppError {
	return &AppError{
		Code:    CodeDuplicate,
		Message: "duplicate source",
		Status:  http.StatusConflict,
		Details: map[string]any{"email_id": emailID},
	}
}

// Quota marks an exhausted LLM allowance; the cascade falls through.
func Quota(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderQuota,
		Message: fmt.Sprintf("provider quota exhausted: %s", provider),
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

// StorageConflict marks a unique-constraint race on a single row.
func StorageConflict(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorageConflict,
		Message: fmt.Sprintf("storage conflict: %s", operation),
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// Invariant marks a broken internal invariant. The run aborts.
func Invariant(message string) *AppError {
	return &AppError{
		Code:    CodeInvariant,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, Err: err}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Skippable reports whether the error is a per-record condition that must
// not fail the batch.
func Skippable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeParseSkip, CodeValidation, CodeDuplicate, CodeProviderQuota, CodeStorageConflict:
		return true
	}
	return false
}

// AsAppError coerces any error into an AppError.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
