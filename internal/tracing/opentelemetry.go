package tracing

import (
	"context"
	"fmt"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer every span of the service is started from.
const TracerName = "receiptsync"

// DefaultTracingConfig returns tracing disabled with a stdout exporter
// ready for local use.
func DefaultTracingConfig() models.TracingConfig {
	return models.TracingConfig{
		ServiceName:    TracerName,
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4318",
		SampleRate:     0.1,
		Enabled:        false,
		UseStdout:      true,
	}
}

// TracingManager owns the tracer provider for the lifetime of the process.
type TracingManager struct {
	config          models.TracingConfig
	logger          *logrus.Logger
	tracerProvider  *trace.TracerProvider
	shutdownTimeout time.Duration
}

func NewTracingManager(config models.TracingConfig, logger *logrus.Logger) *TracingManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &TracingManager{
		config:          config,
		logger:          logger,
		shutdownTimeout: time.Duration(constants.DefaultTracingShutdownSec) * time.Second,
	}
}

// Initialize installs the global tracer provider. It is a no-op when
// tracing is disabled.
func (tm *TracingManager) Initialize(ctx context.Context) error {
	if !tm.config.Enabled {
		tm.logger.Info("OpenTelemetry tracing is disabled")
		return nil
	}
	if tm.config.SampleRate < 0 || tm.config.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %v", tm.config.SampleRate)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter trace.SpanExporter
	if tm.config.UseStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tm.logger.Info("Using stdout trace exporter")
	} else {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
		}
		tm.logger.WithField("endpoint", tm.config.OTLPEndpoint).Info("Using OTLP HTTP trace exporter")
	}

	tm.tracerProvider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tm.config.SampleRate))),
	)

	otel.SetTracerProvider(tm.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.logger.WithFields(logrus.Fields{
		"service":     tm.config.ServiceName,
		"sample_rate": tm.config.SampleRate,
	}).Info("OpenTelemetry tracing initialized")

	return nil
}

// Shutdown flushes pending spans. Calling it more than once is safe.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, tm.shutdownTimeout)
	defer cancel()

	provider := tm.tracerProvider
	tm.tracerProvider = nil
	if err := provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	tm.logger.Info("OpenTelemetry tracing shutdown completed")
	return nil
}

// StartSpan starts a span from the service tracer.
func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	spanCtx, span := otel.Tracer(TracerName).Start(ctx, spanName)

	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}

	return spanCtx, span
}

func AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attributes...)
	}
}

func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attributes...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetOtelTraceID returns the trace id of the current span, or "" when
// there is no valid span.
func GetOtelTraceID(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func GetOtelSpanID(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// WithOtelTracing starts a span and mirrors its ids into the request
// context used by the logging middleware.
func WithOtelTracing(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	spanCtx, span := StartSpan(ctx, spanName)

	if traceID := GetOtelTraceID(spanCtx); traceID != "" {
		spanCtx = WithTraceID(spanCtx, traceID)
	}
	if spanID := GetOtelSpanID(spanCtx); spanID != "" {
		spanCtx = WithSpanID(spanCtx, spanID)
	}

	return spanCtx, span
}
