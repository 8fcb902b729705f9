package relay

import (
	"receiptsync/internal/models"
)

// Signal names the kind of envelope sent to the relay
type Signal string

const (
	SignalReadReceiptSync   Signal = "read_receipt_sync"
	SignalReadReceipt       Signal = "read_receipt"
	SignalConfigurationSync Signal = "configuration_sync"
)

// Envelope is one JSON text frame on the relay socket. Exactly the payload
// matching Type is set. ID lets the relay drop duplicates after a reconnect.
type Envelope struct {
	ID            string                        `json:"id"`
	Type          Signal                        `json:"type"`
	CreatedAt     int64                         `json:"createdAt"`
	Sync          []models.ReadReceiptSyncEntry `json:"sync,omitempty"`
	ReadReceipt   *ReadReceipt                  `json:"readReceipt,omitempty"`
	Configuration *Configuration                `json:"configuration,omitempty"`
}

// ReadReceipt tells a sender that this account read their message
type ReadReceipt struct {
	Recipient          string `json:"recipient"`
	MessageIDTimestamp uint64 `json:"timestamp"`
	ReadTimestamp      uint64 `json:"readTimestamp"`
}

// Configuration carries the settings synced to linked devices
type Configuration struct {
	ReadReceiptsEnabled bool `json:"readReceiptsEnabled"`
}
