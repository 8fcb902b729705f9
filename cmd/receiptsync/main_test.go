package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestConfigureLogLevel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		verbose    bool
		want       logrus.Level
	}{
		{"default", "", false, logrus.InfoLevel},
		{"configured", "warn", false, logrus.WarnLevel},
		{"verbose wins", "error", true, logrus.DebugLevel},
		{"invalid falls back", "chatty", false, logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(io.Discard)
			logger.SetLevel(logrus.PanicLevel)

			configureLogLevel(logger, tt.configured, tt.verbose)

			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}
