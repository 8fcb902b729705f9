package errors

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewInvalidInputError creates an error for input rejected before any mutation
func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithUserMessage(message)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewTransactionError creates an error for an aborted transaction. The whole
// operation that ran inside the transaction has been rolled back.
func NewTransactionError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeTransaction, fmt.Sprintf("%s aborted", operation)).
		WithContext("operation", operation).
		WithUserMessage("Operation aborted, nothing was applied")
}

// NewTransportError creates an error for a failed outgoing emission
func NewTransportError(signal string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransport, fmt.Sprintf("emitting %s failed", signal)).
		WithContext("signal", signal).
		WithUserMessage("Relay unavailable")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates an error for a write that collides with a stored
// record. Repeating the request cannot succeed.
func NewConflictError(resource, message string) *AppError {
	return New(ErrCodeConflict, message).
		WithContext("resource", resource).
		WithUserMessage(fmt.Sprintf("%s already exists", resource))
}

// Context helpers

// ContextWithRequestID stores a request ID for later error enrichment
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithTraceID stores a trace ID for later error enrichment
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}

	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}

	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}

	return err
}

// HTTP helpers

// HTTPStatusCode maps an error to the status of the ingest API response
func HTTPStatusCode(err error) int {
	if status, ok := codeStatus[GetCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := As(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			// Only include non-sensitive context in HTTP responses
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "token" && k != "secret" && k != "value" && k != "request_id" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
