package constants

// Default retry and server configuration values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseBusyTimeoutMs  = 5000
	DefaultGracefulShutdownSec    = 30
	DefaultServerPort             = 8085
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultMaxRequestBodyBytes    = 1 << 20
	DefaultRateLimitPerMinute     = 600
	DefaultMaxReceiptsPerBatch    = 1000
	DefaultTracingShutdownSec     = 5
	DefaultCircuitBreakerFailures = 5
	DefaultCircuitBreakerTimeout  = 30
)

// Receipt reconciliation defaults
const (
	DefaultEarlyReceiptRetentionDays = 30
	DefaultCleanupIntervalHours      = 24
	DefaultConfigSyncDebounceMs      = 500
	DefaultReadReceiptsEnabled       = false
)

// Relay transport defaults
const (
	DefaultRelayQueueSize       = 256
	DefaultRelayDialTimeoutSec  = 10
	DefaultRelayWriteTimeoutSec = 10
)

// Privacy settings
const (
	DefaultAddressMaskLength = 4
)

// Encryption settings for participant addresses stored at rest
const (
	EncryptionSalt       = "receiptsync-address-salt-v1"
	EncryptionLookupSalt = "receiptsync-lookup-salt-v1"
	EncryptionSecretEnv  = "RECEIPTSYNC_ENCRYPTION_SECRET"
)

// Ingest API authentication
const (
	IngestSecretEnv       = "RECEIPTSYNC_INGEST_SECRET"
	EnvironmentEnv        = "RECEIPTSYNC_ENV"
	IngestSignatureHeader = "X-Receiptsync-Signature"
)

// Key-value store collection and keys
const (
	ReadReceiptsCollection = "OWSReadReceiptManagerCollection"
	ReadReceiptsEnabledKey = "areReadReceiptsEnabled"
)
