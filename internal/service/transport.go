package service

import (
	"context"

	"receiptsync/internal/models"
)

// Transport delivers the signals produced by the receipt engine. Emit
// methods enqueue and return; delivery happens asynchronously.
type Transport interface {
	// EmitReadReceiptSync tells this account's linked devices which
	// messages were read here.
	EmitReadReceiptSync(ctx context.Context, entries []models.ReadReceiptSyncEntry) error
	// EmitReadReceipt tells the sender of a message that it was read.
	EmitReadReceipt(ctx context.Context, recipient string, messageIDTimestamp, readTimestamp uint64) error
	// EmitConfigurationSync tells linked devices the read receipts setting.
	EmitConfigurationSync(ctx context.Context, readReceiptsEnabled bool) error
}
