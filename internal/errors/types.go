package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure for callers, logs and HTTP responses
type ErrorCode string

const (
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Storage. A failed transaction has been rolled back completely.
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrCodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	ErrCodeTransaction        ErrorCode = "TRANSACTION"

	// An emission to the relay failed after the state change committed
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// Rejected receipt input; nothing was mutated
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeConflict         ErrorCode = "CONFLICT"

	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
)

// codeStatus is the HTTP status the ingest API answers with for each code.
// Codes missing here map to 500.
var codeStatus = map[ErrorCode]int{
	ErrCodeInvalidConfig:      http.StatusBadRequest,
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeValidationFailed:   http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeRateLimited:        http.StatusTooManyRequests,
	ErrCodeTimeout:            http.StatusRequestTimeout,
	ErrCodeTransport:          http.StatusBadGateway,
	ErrCodeDatabaseConnection: http.StatusServiceUnavailable,
	ErrCodeDatabaseQuery:      http.StatusServiceUnavailable,
	ErrCodeDatabaseMigration:  http.StatusServiceUnavailable,
	ErrCodeTransaction:        http.StatusServiceUnavailable,
}

// AppError is a classified error. Context carries structured fields that
// end up in logs, and the non-sensitive ones in HTTP error bodies.
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// WrapRetryable wraps err and marks the failed operation as safe to repeat
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	appErr := Wrap(err, code, message)
	appErr.Retryable = true
	return appErr
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

// GetCode returns the code of the first AppError in err's chain, or
// ErrCodeInternalError for anything unclassified.
func GetCode(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsClientError reports whether err was caused by the caller's input rather
// than by this service or its dependencies.
func IsClientError(err error) bool {
	status := HTTPStatusCode(err)
	return status >= 400 && status < 500 && status != http.StatusRequestTimeout
}

// GetUserMessage returns the message safe to show a caller
func GetUserMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "An internal error occurred"
}
