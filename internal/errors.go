package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidEmail     ErrorCode = "INVALID_EMAIL"
	ErrCodeInvalidLevel     ErrorCode = "INVALID_PERMISSION_LEVEL"
	ErrCodeInvalidDuration  ErrorCode = "INVALID_DURATION"
	ErrCodeReasonRequired   ErrorCode = "REASON_REQUIRED"

	ErrCodeGrantNotFound      ErrorCode = "GRANT_NOT_FOUND"
	ErrCodeUnauthorizedAccess ErrorCode = "UNAUTHORIZED_ACCESS"
	ErrCodeInvalidGrantStatus ErrorCode = "INVALID_GRANT_STATUS"
	ErrCodeDuplicateGrant     ErrorCode = "DUPLICATE_ACTIVE_GRANT"
	ErrCodeStaleGrant         ErrorCode = "STALE_GRANT"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ConflictDetails carries the id of the grant that already holds the tuple so
// the caller can route the request to extend instead of create.
type ConflictDetails struct {
	ExistingGrantID string `json:"existing_grant_id"`
}

// ExternalSyncDetails names the provider step that failed and whether the
// operation may be retried with the same inputs.
type ExternalSyncDetails struct {
	FailedStep string `json:"failed_step"`
	Retryable  bool   `json:"retryable"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewGrantConflictError reports a one-active-grant violation together with
// the competing grant id.
func NewGrantConflictError(existingGrantID string) *AppError {
	return NewConflictError("an active grant already exists for this subject, resource and level", ErrCodeDuplicateGrant).
		WithDetails(ConflictDetails{ExistingGrantID: existingGrantID})
}

// NewExternalSyncError reports an exhausted-retry provider failure. The grant
// stays in its pre-transition state and the operation is safe to retry.
func NewExternalSyncError(failedStep string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeProviderUnavailable,
		Message:    "authorization provider temporarily unavailable",
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
		Details:    ExternalSyncDetails{FailedStep: failedStep, Retryable: true},
	}
}

// NewPermanentSyncError reports a provider rejection that must not be blindly
// retried; the caller has to fix the input first.
func NewPermanentSyncError(failedStep string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeProviderRejected,
		Message:    "authorization provider rejected the request",
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
		Details:    ExternalSyncDetails{FailedStep: failedStep, Retryable: false},
	}
}

var (
	ErrGrantNotFound      = NewNotFoundError("Grant not found", ErrCodeGrantNotFound)
	ErrUnauthorizedAccess = NewForbiddenError("unauthorized access to grant", ErrCodeUnauthorizedAccess)
	ErrInvalidGrantStatus = NewValidationError("invalid grant status for this operation", ErrCodeInvalidGrantStatus)
	ErrStaleGrant         = NewConflictError("grant was modified concurrently, reload and retry", ErrCodeStaleGrant)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
