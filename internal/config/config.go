package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"receiptsync/internal/constants"
	"receiptsync/internal/models"
	"receiptsync/internal/security"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
	ErrInvalidPort   = models.ConfigError{Message: "server port must be between 1 and 65535"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func decode(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Database.BusyTimeoutMs <= 0 {
		c.Database.BusyTimeoutMs = constants.DefaultDatabaseBusyTimeoutMs
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = constants.DefaultMaxRequestBodyBytes
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = constants.DefaultRateLimitPerMinute
	}

	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = constants.DefaultRelayQueueSize
	}
	if c.Relay.DialTimeoutSec <= 0 {
		c.Relay.DialTimeoutSec = constants.DefaultRelayDialTimeoutSec
	}
	if c.Relay.WriteTimeoutSec <= 0 {
		c.Relay.WriteTimeoutSec = constants.DefaultRelayWriteTimeoutSec
	}
	if c.Relay.URL != "" && !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
		return models.ConfigError{Message: fmt.Sprintf("relay URL must use ws:// or wss://, got %q", c.Relay.URL)}
	}

	if c.Receipts.EarlyReceiptRetentionDays <= 0 {
		c.Receipts.EarlyReceiptRetentionDays = constants.DefaultEarlyReceiptRetentionDays
	}
	if c.Receipts.CleanupIntervalHours <= 0 {
		c.Receipts.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
	if c.Receipts.ConfigSyncDebounceMs < 0 {
		return models.ConfigError{Message: "configSyncDebounceMs cannot be negative"}
	}
	if c.Receipts.ConfigSyncDebounceMs == 0 {
		c.Receipts.ConfigSyncDebounceMs = constants.DefaultConfigSyncDebounceMs
	}
	if c.Receipts.MaxReceiptsPerBatch <= 0 {
		c.Receipts.MaxReceiptsPerBatch = constants.DefaultMaxReceiptsPerBatch
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "receiptsync"
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample_rate must be between 0 and 1"}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("RECEIPTSYNC_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("RECEIPTSYNC_RELAY_URL"); url != "" {
		c.Relay.URL = url
	}

	// SECURITY: relay tokens should be set via environment variables
	if token := os.Getenv("RECEIPTSYNC_RELAY_TOKEN"); token != "" {
		c.Relay.AuthToken = token
	}

	if port := os.Getenv("RECEIPTSYNC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}
