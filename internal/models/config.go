package models

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Receipts ReceiptsConfig `json:"receipts" yaml:"receipts"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path             string `json:"path" yaml:"path"`
	BusyTimeoutMs    int    `json:"busyTimeoutMs" yaml:"busyTimeoutMs"`
	EncryptAddresses bool   `json:"encryptAddresses" yaml:"encryptAddresses"`
}

// RelayConfig holds the websocket relay used to emit receipts and syncs
type RelayConfig struct {
	URL             string `json:"url" yaml:"url"`
	AuthToken       string `json:"auth_token" yaml:"auth_token"`
	QueueSize       int    `json:"queueSize" yaml:"queueSize"`
	DialTimeoutSec  int    `json:"dialTimeoutSec" yaml:"dialTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec" yaml:"writeTimeoutSec"`
}

// ServerConfig holds the ingest HTTP server settings
type ServerConfig struct {
	Port               int   `json:"port" yaml:"port"`
	ReadTimeoutSec     int   `json:"readTimeoutSec" yaml:"readTimeoutSec"`
	WriteTimeoutSec    int   `json:"writeTimeoutSec" yaml:"writeTimeoutSec"`
	IdleTimeoutSec     int   `json:"idleTimeoutSec" yaml:"idleTimeoutSec"`
	MaxRequestBytes    int64 `json:"maxRequestBytes" yaml:"maxRequestBytes"`
	RateLimitPerMinute int   `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	TrustProxyHeaders  bool  `json:"trustProxyHeaders" yaml:"trustProxyHeaders"`
}

// ReceiptsConfig holds read receipt reconciliation settings
type ReceiptsConfig struct {
	EarlyReceiptRetentionDays int `json:"earlyReceiptRetentionDays" yaml:"earlyReceiptRetentionDays"`
	CleanupIntervalHours      int `json:"cleanupIntervalHours" yaml:"cleanupIntervalHours"`
	ConfigSyncDebounceMs      int `json:"configSyncDebounceMs" yaml:"configSyncDebounceMs"`
	MaxReceiptsPerBatch       int `json:"maxReceiptsPerBatch" yaml:"maxReceiptsPerBatch"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
