// Package store declares the storage contracts shared by the SQLite
// implementation and the receipt service.
package store

import (
	"context"

	"receiptsync/internal/models"
)

// MessageStore is the slice of the message store the receipt engine reads
// and mutates. Lookups return nil, nil when nothing matches.
type MessageStore interface {
	FindIncomingMessage(ctx context.Context, sender string, messageIDTimestamp uint64) (*models.Message, error)
	FindOutgoingMessage(ctx context.Context, sentTimestamp uint64) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	// InsertMessage assigns msg.ID and runs every registered InsertHook in the
	// same transaction.
	InsertMessage(ctx context.Context, msg *models.Message) error
	MarkMessageRead(ctx context.Context, id int64, readTimestamp uint64) error
	// SetRecipientReadTimestamp records when recipient read an outgoing
	// message, keeping the earliest timestamp.
	SetRecipientReadTimestamp(ctx context.Context, messageID int64, recipient string, readTimestamp uint64) error
	// UnreadIncomingMessagesBefore lists unread incoming messages of a thread
	// with ID <= sortID, in store order.
	UnreadIncomingMessagesBefore(ctx context.Context, threadID string, sortID int64) ([]*models.Message, error)
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
	SetThreadPendingMessageRequest(ctx context.Context, threadID string, pending bool) error
}

// EarlyReceiptStore holds receipts that arrived before their message.
type EarlyReceiptStore interface {
	PutLinkedDeviceReceipt(ctx context.Context, receipt *models.LinkedDeviceReadReceipt) error
	TakeLinkedDeviceReceipt(ctx context.Context, sender string, messageIDTimestamp uint64) (*models.LinkedDeviceReadReceipt, error)
	MergeRecipientReadTimestamp(ctx context.Context, sentTimestamp uint64, recipient string, readTimestamp uint64) error
	TakeRecipientReadReceipt(ctx context.Context, sentTimestamp uint64) (*models.RecipientReadReceipt, error)
}

// KeyValueStore persists small settings values.
type KeyValueStore interface {
	GetBool(ctx context.Context, collection, key string) (value bool, found bool, err error)
	SetBool(ctx context.Context, collection, key string, value bool) error
}

// PendingReceiptStore holds sender receipts withheld while a message
// request is pending.
type PendingReceiptStore interface {
	RecordPendingReadReceipt(ctx context.Context, receipt *models.PendingReadReceipt) error
	TakePendingReadReceipts(ctx context.Context, threadID string) ([]*models.PendingReadReceipt, error)
}

// ReadTx is a read-only view of the store.
type ReadTx interface {
	FindIncomingMessage(ctx context.Context, sender string, messageIDTimestamp uint64) (*models.Message, error)
	FindOutgoingMessage(ctx context.Context, sentTimestamp uint64) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
	GetBool(ctx context.Context, collection, key string) (value bool, found bool, err error)
}

// WriteTx is one atomic unit of work. Commit hooks run after a successful
// commit, before Runner.WriteTx returns, in registration order. They never
// run when the transaction rolls back.
type WriteTx interface {
	MessageStore
	EarlyReceiptStore
	KeyValueStore
	PendingReceiptStore
	AddCommitHook(hook func())
}

// InsertHook runs inside the inserting transaction right after a message
// row is written. An error aborts the insertion.
type InsertHook func(ctx context.Context, tx WriteTx, msg *models.Message) error

// Runner opens transactions.
type Runner interface {
	// WriteTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WriteTx(ctx context.Context, fn func(tx WriteTx) error) error
	ReadTx(ctx context.Context, fn func(tx ReadTx) error) error
	// OnMessageInserted registers a hook fired by every InsertMessage.
	OnMessageInserted(hook InsertHook)
}
