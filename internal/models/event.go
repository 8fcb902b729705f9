package models

// ReceiptKind selects the pipeline a ReceiptEvent is routed to.
type ReceiptKind string

const (
	KindLinkedDeviceIncoming ReceiptKind = "linked_device_incoming"
	KindRecipientIncoming    ReceiptKind = "recipient_incoming"
	KindLocalRead            ReceiptKind = "local_read"
	KindConfigSync           ReceiptKind = "config_sync"
)

// ReceiptEvent is a closed set of receipt variants. Exactly the payload that
// matches Kind is set.
type ReceiptEvent struct {
	Kind         ReceiptKind        `json:"kind"`
	LinkedDevice *LinkedDeviceBatch `json:"linkedDevice,omitempty"`
	Recipient    *RecipientBatch    `json:"recipient,omitempty"`
	LocalRead    *LocalRead         `json:"localRead,omitempty"`
	ConfigSync   *ConfigSync        `json:"configSync,omitempty"`
}

// LinkedDeviceReadEntry references one message read on a linked device.
type LinkedDeviceReadEntry struct {
	SenderAddress      string `json:"sender"`
	MessageIDTimestamp uint64 `json:"timestamp"`
}

// LinkedDeviceBatch is a read sync message from a linked device. All entries
// share the same read timestamp.
type LinkedDeviceBatch struct {
	Entries       []LinkedDeviceReadEntry `json:"entries"`
	ReadTimestamp uint64                  `json:"readTimestamp"`
}

// RecipientBatch is a read receipt from a recipient of messages this account sent.
type RecipientBatch struct {
	SenderAddress  string   `json:"sender"`
	SentTimestamps []uint64 `json:"sentTimestamps"`
	ReadTimestamp  uint64   `json:"readTimestamp"`
}

// LocalRead marks a stored incoming message read on this device.
type LocalRead struct {
	MessageID    int64            `json:"messageId"`
	Circumstance ReadCircumstance `json:"circumstance"`
}

// ConfigSync changes the read receipts setting and syncs it to linked devices.
type ConfigSync struct {
	ReadReceiptsEnabled bool `json:"readReceiptsEnabled"`
}

// ReadSyncWire is the wire shape of a linked-device read sync, which carries
// senders and timestamps as parallel arrays.
type ReadSyncWire struct {
	Senders       []string `json:"senders"`
	Timestamps    []uint64 `json:"timestamps"`
	ReadTimestamp uint64   `json:"readTimestamp"`
}

// Batch converts the wire shape into a LinkedDeviceBatch. Callers validate
// that Senders and Timestamps have the same length first.
func (w ReadSyncWire) Batch() LinkedDeviceBatch {
	entries := make([]LinkedDeviceReadEntry, len(w.Senders))
	for i, sender := range w.Senders {
		entries[i] = LinkedDeviceReadEntry{SenderAddress: sender, MessageIDTimestamp: w.Timestamps[i]}
	}
	return LinkedDeviceBatch{Entries: entries, ReadTimestamp: w.ReadTimestamp}
}
