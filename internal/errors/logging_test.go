package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := NewLogger()
	logger.SetOutput(buf)
	logger.SetLevel(logrus.DebugLevel)
	return logger, buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogError_AppError(t *testing.T) {
	logger, buf := newBufferedLogger()

	err := NewTransactionError("recipient batch", errors.New("database is locked"))
	logger.LogError(err, "batch failed", logrus.Fields{"batch_size": 3})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "batch failed", entry["msg"])
	assert.Equal(t, string(ErrCodeTransaction), entry["error_code"])
	assert.Equal(t, false, entry["retryable"])
	assert.Equal(t, "recipient batch", entry["operation"])
	assert.Equal(t, float64(3), entry["batch_size"])
}

func TestLogger_LogRetryableError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"retryable logs at warn", NewTransportError("read_receipt", errors.New("closed")), "warning"},
		{"non retryable logs at error", NewInvalidInputError("bad"), "error"},
		{"plain error logs at error", errors.New("plain"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedLogger()
			logger.LogRetryableError(tt.err, "emission failed")
			assert.Equal(t, tt.level, decodeEntry(t, buf)["level"])
		})
	}
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger()

	logger.WithError(NewNotFoundError("message", "42")).Info("lookup")

	entry := decodeEntry(t, buf)
	assert.Equal(t, string(ErrCodeNotFound), entry["error_code"])
	assert.Equal(t, "message", entry["resource"])
	assert.Equal(t, "42", entry["identifier"])
}

func TestLogger_LogRejection(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"invalid input", NewInvalidInputError("empty sender"), "warning"},
		{"missing message", NewNotFoundError("message", "7"), "warning"},
		{"aborted transaction", NewTransactionError("batch", errors.New("locked")), "error"},
		{"timeout", NewTimeoutError("relay dial", "10s"), "error"},
		{"plain", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedLogger()
			logger.LogRejection(tt.err, "receipt rejected")
			assert.Equal(t, tt.level, decodeEntry(t, buf)["level"])
		})
	}
}

func TestFields_PlainError(t *testing.T) {
	assert.Empty(t, Fields(errors.New("plain")))
}
