package errors

import (
	"github.com/sirupsen/logrus"
)

// Logger adds AppError fields to log entries
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a JSON logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// Fields returns the structured fields of the first AppError in err's chain
func Fields(err error) logrus.Fields {
	appErr, ok := As(err)
	if !ok {
		return logrus.Fields{}
	}
	fields := logrus.Fields{
		"error_code": appErr.Code,
		"retryable":  appErr.Retryable,
	}
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// WithError returns an entry carrying err and its AppError fields
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err).WithFields(Fields(err))
}

func (l *Logger) entry(err error, extra []logrus.Fields) *logrus.Entry {
	entry := l.WithError(err)
	for _, fields := range extra {
		entry = entry.WithFields(fields)
	}
	return entry
}

func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Error(message)
}

func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Warn(message)
}

// LogRetryableError logs a retryable error at warn level, others at error level
func (l *Logger) LogRetryableError(err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		l.LogWarn(err, message, fields...)
		return
	}
	l.LogError(err, message, fields...)
}

// LogRejection logs errors caused by the caller's input at warn level and
// every other failure at error level.
func (l *Logger) LogRejection(err error, message string, fields ...logrus.Fields) {
	if IsClientError(err) {
		l.LogWarn(err, message, fields...)
		return
	}
	l.LogError(err, message, fields...)
}
