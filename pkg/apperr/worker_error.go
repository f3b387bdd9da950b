package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"inbox_worker/core/domain"
)

// Error codes
const (
	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidInput     = "INVALID_INPUT"

	// Resource errors
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeAlreadyInFlight = "ALREADY_IN_FLIGHT"

	// External errors
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeSuggestionFailed   = "SUGGESTION_FAILED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
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

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// FromDomain maps core/domain errors onto the HTTP error envelope. Errors it
// does not recognise become 500s.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		e := &AppError{
			Code:    CodeValidationFailed,
			Message: ve.Error(),
			Status:  http.StatusBadRequest,
			Err:     err,
		}
		if ve.Field != "" {
			e.WithDetail("field", ve.Field)
		}
		return e
	}

	// not-found is checked before StoreError, which usually wraps it
	if errors.Is(err, domain.ErrNotFound) {
		return NotFound("record").WithError(err)
	}

	if errors.Is(err, domain.ErrAlreadyInFlight) {
		return &AppError{
			Code:    CodeAlreadyInFlight,
			Message: "record is already being classified",
			Status:  http.StatusConflict,
			Err:     err,
		}
	}

	if errors.Is(err, domain.ErrQueueFull) {
		return &AppError{
			Code:    CodeServiceUnavailable,
			Message: "dispatch queue is full, retry later",
			Status:  http.StatusServiceUnavailable,
			Err:     err,
		}
	}

	var se *domain.SuggestionError
	if errors.As(err, &se) {
		return &AppError{
			Code:    CodeSuggestionFailed,
			Message: "reply suggestion failed",
			Status:  http.StatusBadGateway,
			Details: map[string]any{"record_id": se.RecordID.String()},
			Err:     err,
		}
	}

	var stErr *domain.StoreError
	if errors.As(err, &stErr) {
		return DatabaseError(stErr.Op, err)
	}

	return InternalWithError(err)
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func GetHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromDomain(err).Status
}
