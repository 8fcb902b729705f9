package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
	StartTimeKey ContextKey = "start_time"
)

// RequestInfo is the tracing state of one HTTP request
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	StartTime time.Time `json:"start_time"`
}

// GenerateRequestID returns a fresh request id
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, StartTimeKey, startTime)
}

func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

func GetSpanID(ctx context.Context) string {
	spanID, _ := ctx.Value(SpanIDKey).(string)
	return spanID
}

func GetStartTime(ctx context.Context) time.Time {
	startTime, _ := ctx.Value(StartTimeKey).(time.Time)
	return startTime
}

// GetRequestInfo collects every tracing value stored in ctx
func GetRequestInfo(ctx context.Context) *RequestInfo {
	return &RequestInfo{
		RequestID: GetRequestID(ctx),
		TraceID:   GetTraceID(ctx),
		SpanID:    GetSpanID(ctx),
		StartTime: GetStartTime(ctx),
	}
}

// Duration is the time elapsed since the start time stored in ctx, or zero
func Duration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
