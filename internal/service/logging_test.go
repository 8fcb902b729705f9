package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"receiptsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVerboseLogging(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected bool
	}{
		{
			name:     "verbose enabled",
			ctx:      context.WithValue(context.Background(), VerboseContextKey, true),
			expected: true,
		},
		{
			name:     "verbose disabled",
			ctx:      context.WithValue(context.Background(), VerboseContextKey, false),
			expected: false,
		},
		{
			name:     "untyped key ignored",
			ctx:      context.WithValue(context.Background(), "verbose", true), //nolint:staticcheck
			expected: false,
		},
		{
			name:     "no verbose in context",
			ctx:      context.Background(),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVerboseLogging(tt.ctx))
		})
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		address  string
		expected string
	}{
		{
			name:     "phone masked",
			address:  "+15550001234",
			expected: "+*******1234",
		},
		{
			name:     "service id masked",
			address:  "7a3c5e21-4b8f-4d2e-9c61-0f2b8d4e6a13",
			expected: "********-****-****-****-********6a13",
		},
		{
			name:     "empty address",
			address:  "",
			expected: "",
		},
		{
			name:     "verbose keeps address",
			verbose:  true,
			address:  "+15550001234",
			expected: "+15550001234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.WithValue(context.Background(), VerboseContextKey, tt.verbose)
			assert.Equal(t, tt.expected, SanitizeAddress(ctx, tt.address))
		})
	}
}

func TestLogBatchResult(t *testing.T) {
	tests := []struct {
		name    string
		result  models.BatchResult
		level   logrus.Level
		message string
	}{
		{
			name:    "non-empty batch logged at info",
			result:  models.BatchResult{Applied: 1, Queued: 2},
			level:   logrus.InfoLevel,
			message: "Completed receipt batch",
		},
		{
			name:    "empty batch logged at debug",
			result:  models.BatchResult{},
			level:   logrus.DebugLevel,
			message: "Completed empty receipt batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logrus.New()
			logger.SetOutput(&buf)
			logger.SetFormatter(&logrus.JSONFormatter{})
			logger.SetLevel(logrus.DebugLevel)

			LogBatchResult(context.Background(), logger, pipelineRecipient, tt.result)

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level.String(), entry["level"])
			assert.Equal(t, tt.message, entry["msg"])
			assert.Equal(t, pipelineRecipient, entry[LogFieldPipeline])
			assert.Equal(t, float64(tt.result.Applied), entry[LogFieldApplied])
			assert.Equal(t, float64(tt.result.Queued), entry[LogFieldQueued])
			assert.Equal(t, false, entry["verbose"])
		})
	}
}
