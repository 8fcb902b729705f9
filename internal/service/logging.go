package service

import (
	"context"

	"receiptsync/internal/models"
	"receiptsync/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeAddress masks a participant address unless verbose logging is on
func SanitizeAddress(ctx context.Context, address string) string {
	if IsVerboseLogging(ctx) {
		return address
	}
	return privacy.MaskAddress(address)
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// LogBatchResult logs the outcome of a committed receipt batch
func LogBatchResult(ctx context.Context, logger *logrus.Logger, pipeline string, result models.BatchResult) {
	entry := LogWithContext(ctx, logger).WithFields(logrus.Fields{
		LogFieldPipeline:    pipeline,
		LogFieldApplied:     result.Applied,
		LogFieldAlreadyRead: result.AlreadyRead,
		LogFieldQueued:      result.Queued,
	})

	if result.Applied+result.AlreadyRead+result.Queued == 0 {
		entry.Debug("Completed empty receipt batch")
		return
	}
	entry.Info("Completed receipt batch")
}
