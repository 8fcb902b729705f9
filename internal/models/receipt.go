package models

import "time"

// LinkedDeviceReadReceipt is a read signal from one of this account's linked
// devices that could not be applied because the message is not stored yet.
// At most one exists per (SenderAddress, MessageIDTimestamp).
type LinkedDeviceReadReceipt struct {
	UniqueID           string    `json:"uniqueId"`
	SenderAddress      string    `json:"senderAddress"`
	MessageIDTimestamp uint64    `json:"messageIdTimestamp"`
	ReadTimestamp      uint64    `json:"readTimestamp"`
	CreatedAt          time.Time `json:"createdAt"`
}

// RecipientReadReceipt aggregates the read receipts received for a sent
// message that is not stored yet.
type RecipientReadReceipt struct {
	UniqueID      string `json:"uniqueId"`
	SentTimestamp uint64 `json:"sentTimestamp"`
	// Map of recipient to read timestamp.
	RecipientMap map[string]uint64 `json:"recipientMap"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// ReadReceiptSyncEntry is one message reported to linked devices as read.
type ReadReceiptSyncEntry struct {
	SenderAddress      string `json:"sender"`
	MessageIDTimestamp uint64 `json:"timestamp"`
	ReadTimestamp      uint64 `json:"readTimestamp"`
}

// PendingReadReceipt is a sender read receipt held back while its thread has a
// pending message request.
type PendingReadReceipt struct {
	ID                 int64     `json:"id"`
	ThreadID           string    `json:"threadId"`
	MessageID          int64     `json:"messageId"`
	SenderAddress      string    `json:"senderAddress"`
	MessageIDTimestamp uint64    `json:"messageIdTimestamp"`
	ReadTimestamp      uint64    `json:"readTimestamp"`
	CreatedAt          time.Time `json:"createdAt"`
}

// EarlyReceiptStats counts the early receipts still waiting for their message.
type EarlyReceiptStats struct {
	LinkedDevice int64 `json:"linkedDevice"`
	Recipient    int64 `json:"recipient"`
}

// BatchResult reports what happened to each entry of a committed batch.
type BatchResult struct {
	Applied     int `json:"applied"`
	AlreadyRead int `json:"alreadyRead"`
	Queued      int `json:"queued"`
}

// Add accumulates other into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Applied += other.Applied
	r.AlreadyRead += other.AlreadyRead
	r.Queued += other.Queued
}
