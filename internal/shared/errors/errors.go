package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
	ErrValidation        = errors.New("validation error")
	ErrAlreadyAssigned   = errors.New("already assigned")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrAlreadyDecided    = errors.New("already decided")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Is and As are re-exported so callers importing this package under the
// name "errors" can still branch on sentinels.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// AlreadyAssigned reports that a case already has a lawyer.
func AlreadyAssigned(caseID string) *AppError {
	return &AppError{
		Err:        ErrAlreadyAssigned,
		Message:    "case already has an assigned lawyer",
		Code:       "ALREADY_ASSIGNED",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"case_id": caseID},
	}
}

// AlreadyClaimed reports a lost claim race. Callers should refresh the
// list of available cases.
func AlreadyClaimed(caseID string) *AppError {
	return &AppError{
		Err:        ErrAlreadyClaimed,
		Message:    "case was already claimed by another lawyer",
		Code:       "ALREADY_CLAIMED",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"case_id": caseID},
	}
}

// AlreadyDecided reports a decision on a membership that is no longer pending.
func AlreadyDecided(membershipID, status string) *AppError {
	return &AppError{
		Err:        ErrAlreadyDecided,
		Message:    "membership has already been decided",
		Code:       "ALREADY_DECIDED",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"membership_id": membershipID, "status": status},
	}
}

// InvalidTransition reports a state machine violation.
func InvalidTransition(from, attempted string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Message:    fmt.Sprintf("cannot %s while %s", attempted, from),
		Code:       "INVALID_TRANSITION",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"status": from, "action": attempted},
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context. Typed application errors keep
// their kind; the message is prefixed on a copy so shared values stay intact.
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := *appErr
		wrapped.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return &wrapped
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
