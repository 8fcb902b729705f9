package service

// Logging Standards for receiptsync
//
// Standard field names. Use these exact names so that log queries work
// across every pipeline.
const (
	// Core identifiers
	LogFieldMessageID = "message_id"
	LogFieldThreadID  = "thread_id"
	LogFieldSender    = "sender"
	LogFieldRecipient = "recipient"
	LogFieldTimestamp = "timestamp"
	LogFieldReadAt    = "read_timestamp"
	LogFieldSortID    = "sort_id"

	// Service and operation fields
	LogFieldOperation    = "operation"
	LogFieldComponent    = "component"
	LogFieldPipeline     = "pipeline"
	LogFieldCircumstance = "circumstance"
	LogFieldKind         = "kind"

	// Batch outcome
	LogFieldApplied     = "applied"
	LogFieldAlreadyRead = "already_read"
	LogFieldQueued      = "queued"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// HTTP ingest
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "size_bytes"
	LogFieldSurface    = "surface"

	// Relay
	LogFieldEnvelopeID = "envelope_id"
	LogFieldSignal     = "signal"
	LogFieldAttempt    = "attempt"

	// Error and debugging
	LogFieldErrorCode = "error_code"
)

// Log Level Usage Guidelines
//
// DEBUG: per-entry decisions inside a batch (applied, queued, already read),
// replay of early receipts, debounced sync scheduling.
//
// INFO: startup and shutdown, committed batches, setting changes, accepted
// message requests, cleanup runs.
//
// WARN: rejected input, transport refusing a signal that will be resent by
// the peer, cleanup that removed dead-letter receipts.
//
// ERROR: aborted transactions, failed bulk operations.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
