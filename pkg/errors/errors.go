// Package errors provides custom error types for the application.
// It defines domain-specific errors with error codes for better error handling and API responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

// Error codes for different error categories
const (
	// General errors (1xxx)
	ErrCodeInternal     ErrorCode = "E1000"
	ErrCodeValidation   ErrorCode = "E1001"
	ErrCodeNotFound     ErrorCode = "E1002"
	ErrCodeConflict     ErrorCode = "E1003"
	ErrCodeForbidden    ErrorCode = "E1004"
	ErrCodeUnauthorized ErrorCode = "E1005"

	// Forge errors (2xxx)
	ErrCodeForgeAuth          ErrorCode = "E2001"
	ErrCodeForgeNotFound      ErrorCode = "E2002"
	ErrCodeForgeRateLimit     ErrorCode = "E2003"
	ErrCodeForgeUnprocessable ErrorCode = "E2004"
	ErrCodeForgeUnavailable   ErrorCode = "E2005"
	ErrCodeForgeWebhook       ErrorCode = "E2006"
	ErrCodeForgeUnsupported   ErrorCode = "E2007"

	// Review pipeline errors (3xxx)
	ErrCodeDiffFetch    ErrorCode = "E3001"
	ErrCodeClonePrepare ErrorCode = "E3002"
	ErrCodeReviewRun    ErrorCode = "E3003"
	ErrCodeReviewParse  ErrorCode = "E3004"
	ErrCodeCommentPost  ErrorCode = "E3005"

	// LLM errors (4xxx)
	ErrCodeLLMNotFound      ErrorCode = "E4001"
	ErrCodeLLMUnavailable   ErrorCode = "E4002"
	ErrCodeLLMTimeout       ErrorCode = "E4003"
	ErrCodeLLMRateLimit     ErrorCode = "E4004"
	ErrCodeLLMSpendingLimit ErrorCode = "E4005"
	ErrCodeLLMAuth          ErrorCode = "E4006"

	// State and storage errors (5xxx)
	ErrCodeStateNotFound ErrorCode = "E5001"
	ErrCodeStatePersist  ErrorCode = "E5002"
	ErrCodeStateCorrupt  ErrorCode = "E5003"
	ErrCodeDBConnection  ErrorCode = "E5004"
	ErrCodeDBQuery       ErrorCode = "E5005"

	// Configuration errors (6xxx)
	ErrCodeConfigNotFound   ErrorCode = "E6001"
	ErrCodeConfigInvalid    ErrorCode = "E6002"
	ErrCodeConfigParse      ErrorCode = "E6003"
	ErrCodeJWTSecretInvalid ErrorCode = "E6004"
)

// Exit codes for application startup failures
const (
	// ExitCodeConfigValidation indicates configuration validation failure
	ExitCodeConfigValidation = 2
)

// Kind classifies an error for retry purposes.
type Kind string

const (
	// KindTransient errors are retried under exponential backoff.
	KindTransient Kind = "transient"
	// KindPermanent errors disable automatic retry.
	KindPermanent Kind = "permanent"
)

// permanentCodes are error codes that never succeed on retry.
var permanentCodes = map[ErrorCode]bool{
	ErrCodeForgeAuth:          true,
	ErrCodeForgeNotFound:      true,
	ErrCodeForgeRateLimit:     true,
	ErrCodeForgeUnprocessable: true,
	ErrCodeLLMRateLimit:       true,
	ErrCodeLLMSpendingLimit:   true,
	ErrCodeLLMAuth:            true,
	ErrCodeUnauthorized:       true,
	ErrCodeForbidden:          true,
	ErrCodeNotFound:           true,
}

// Classify returns the retry kind of an error. AppError codes decide;
// anything unrecognized is transient.
func Classify(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if permanentCodes[appErr.Code] {
			return KindPermanent
		}
	}
	return KindTransient
}

// ClassifyHTTPStatus maps a forge HTTP status to a retry kind.
func ClassifyHTTPStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return KindPermanent
	default:
		return KindTransient
	}
}

// AppError represents an application-level error with code and context
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	Details any       `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for the error
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeForgeNotFound, ErrCodeLLMNotFound, ErrCodeStateNotFound:
		return http.StatusNotFound
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeForgeAuth, ErrCodeLLMAuth:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeLLMTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeLLMUnavailable, ErrCodeForgeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeForgeRateLimit, ErrCodeLLMRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Common error constructors for convenience

// ErrInternal creates an internal server error
func ErrInternal(message string, err error) *AppError {
	return Wrap(ErrCodeInternal, message, err)
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

// ErrForbidden creates a forbidden error
func ErrForbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError attempts to convert an error to AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
