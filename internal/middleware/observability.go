package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
	"unicode"

	"receiptsync/internal/errors"
	"receiptsync/internal/httputil"
	"receiptsync/internal/metrics"
	"receiptsync/internal/service"
	"receiptsync/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

var activeRequests atomic.Int64

// ObservabilityMiddleware traces, logs and measures every routed request.
// Metrics are labelled with the route template, not the raw path, so ids in
// URLs do not explode label cardinality.
func ObservabilityMiddleware(logger *logrus.Logger, trustProxyHeaders bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.WithOtelTracing(r.Context(), "http_request")
			defer span.End()

			requestID := requestIDFrom(r)
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			ctx = errors.ContextWithRequestID(ctx, requestID)
			if traceID := tracing.GetRequestInfo(ctx).TraceID; traceID != "" {
				ctx = errors.ContextWithTraceID(ctx, traceID)
			}
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			route := routeLabel(r)
			clientIP := httputil.GetClientIP(r, trustProxyHeaders)

			tracing.AddSpanAttributes(ctx,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", r.URL.Path),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP),
				attribute.String("request.id", requestID),
			)

			requestInfo := tracing.GetRequestInfo(ctx)
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldRoute:     route,
				service.LogFieldRemoteIP:  clientIP,
				service.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			metrics.SetGauge("http_requests_active", float64(activeRequests.Add(1)), nil, "Currently active HTTP requests")
			defer func() {
				metrics.SetGauge("http_requests_active", float64(activeRequests.Add(-1)), nil, "Currently active HTTP requests")
			}()

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.body.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			metrics.RecordTimer("http_request_duration", duration, map[string]string{
				"method":   r.Method,
				"endpoint": route,
			}, "HTTP request duration")
			metrics.IncrementCounter("http_responses_total", map[string]string{
				"method":      r.Method,
				"endpoint":    route,
				"status_code": status,
			}, "HTTP responses by status code")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestInfo.RequestID,
				service.LogFieldTraceID:    requestInfo.TraceID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// IngestMiddleware counts receipt ingestion per surface (recipient receipts,
// linked device syncs, local reads). It runs inside ObservabilityMiddleware.
func IngestMiddleware(logger *logrus.Logger, surface string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tracing.AddSpanAttributes(r.Context(),
				attribute.String("ingest.surface", surface),
				attribute.Int64("http.request.body.size", r.ContentLength),
			)

			metrics.IncrementCounter("ingest_requests_total", map[string]string{
				"surface": surface,
			}, "Receipt ingest requests by surface")

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			elapsed := time.Since(start)
			metrics.RecordTimer("ingest_processing_duration", elapsed, map[string]string{
				"surface": surface,
			}, "Receipt ingest processing duration")

			fields := logrus.Fields{
				service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
				service.LogFieldSurface:    surface,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   elapsed.Milliseconds(),
			}
			if wrapper.statusCode >= 400 {
				metrics.IncrementCounter("ingest_errors_total", map[string]string{
					"surface":     surface,
					"status_code": strconv.Itoa(wrapper.statusCode),
				}, "Rejected or failed receipt ingest requests")
				logger.WithFields(fields).Warn("Receipt ingest failed")
				return
			}
			logger.WithFields(fields).Debug("Receipt ingest completed")
		})
	}
}

// requestIDFrom honours a caller supplied id when it is short and printable
func requestIDFrom(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength {
		return tracing.GenerateRequestID()
	}
	for _, c := range id {
		if c > unicode.MaxASCII || !unicode.IsPrint(c) || c == ' ' {
			return tracing.GenerateRequestID()
		}
	}
	return id
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}
