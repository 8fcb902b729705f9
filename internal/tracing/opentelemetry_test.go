package tracing

import (
	"context"
	"errors"
	"io"
	"testing"

	"receiptsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withRecorder installs a provider that keeps finished spans in memory.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultTracingConfig(t *testing.T) {
	config := DefaultTracingConfig()

	assert.Equal(t, "receiptsync", config.ServiceName)
	assert.Equal(t, "dev", config.ServiceVersion)
	assert.Equal(t, 0.1, config.SampleRate)
	assert.False(t, config.Enabled)
	assert.True(t, config.UseStdout)
}

func TestNewTracingManager_NilLogger(t *testing.T) {
	tm := NewTracingManager(DefaultTracingConfig(), nil)
	require.NotNil(t, tm.logger)
	assert.NoError(t, tm.Initialize(context.Background()))
}

func TestTracingManager_Initialize(t *testing.T) {
	tests := []struct {
		name        string
		config      models.TracingConfig
		expectError bool
		expectInit  bool
	}{
		{
			name:   "disabled",
			config: models.TracingConfig{Enabled: false},
		},
		{
			name:       "stdout exporter",
			config:     models.TracingConfig{Enabled: true, UseStdout: true, ServiceName: "test", SampleRate: 1},
			expectInit: true,
		},
		{
			name:        "sample rate out of range",
			config:      models.TracingConfig{Enabled: true, UseStdout: true, ServiceName: "test", SampleRate: 1.5},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			previous := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(previous) })

			tm := NewTracingManager(tt.config, quietLogger())
			err := tm.Initialize(context.Background())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectInit, tm.tracerProvider != nil)

			require.NoError(t, tm.Shutdown(context.Background()))
			require.NoError(t, tm.Shutdown(context.Background()), "shutdown is idempotent")
		})
	}
}

func TestStartSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "receipts.test", attribute.Int("batch_size", 3))
	assert.NotEmpty(t, GetOtelTraceID(ctx))
	assert.NotEmpty(t, GetOtelSpanID(ctx))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "receipts.test", spans[0].Name())
	assert.Equal(t, TracerName, spans[0].InstrumentationScope().Name)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("batch_size", 3))
}

func TestSpanHelpers(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "op")
	AddSpanAttributes(ctx, attribute.String("pipeline", "recipient"))
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("pipeline", "recipient"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)

	ctx, span = StartSpan(context.Background(), "ok")
	SetSpanStatus(ctx, codes.Ok, "")
	span.End()
	assert.Equal(t, codes.Ok, recorder.Ended()[1].Status().Code)
}

func TestSpanHelpers_NoSpan(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.String("k", "v"))
		SetSpanStatus(ctx, codes.Error, "x")
		RecordError(ctx, errors.New("x"))
	})
	assert.Empty(t, GetOtelTraceID(ctx))
	assert.Empty(t, GetOtelSpanID(ctx))
}

func TestWithOtelTracing(t *testing.T) {
	withRecorder(t)

	ctx, span := WithOtelTracing(context.Background(), "http_request")
	defer span.End()

	assert.Equal(t, GetOtelTraceID(ctx), GetTraceID(ctx))
	assert.Equal(t, GetOtelSpanID(ctx), GetSpanID(ctx))
	assert.Len(t, GetTraceID(ctx), 32)
}
