package service

import (
	"context"

	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/store"

	"github.com/sirupsen/logrus"
)

type senderReceipt struct {
	recipient          string
	messageIDTimestamp uint64
	readTimestamp      uint64
}

// outbox collects the signals of one operation and hands them to the
// transport once the transaction that produced them has committed.
type outbox struct {
	syncEntries []models.ReadReceiptSyncEntry
	receipts    []senderReceipt
}

func (o *outbox) addSync(entry models.ReadReceiptSyncEntry) {
	o.syncEntries = append(o.syncEntries, entry)
}

func (o *outbox) addReceipt(recipient string, messageIDTimestamp, readTimestamp uint64) {
	o.receipts = append(o.receipts, senderReceipt{
		recipient:          recipient,
		messageIDTimestamp: messageIDTimestamp,
		readTimestamp:      readTimestamp,
	})
}

func (o *outbox) empty() bool {
	return len(o.syncEntries) == 0 && len(o.receipts) == 0
}

// flushOnCommit registers the flush as a commit hook of tx. Nothing is sent
// when tx rolls back.
func (o *outbox) flushOnCommit(ctx context.Context, tx store.WriteTx, transport Transport, logger *logrus.Logger) {
	if o.empty() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	tx.AddCommitHook(func() {
		o.flush(ctx, transport, logger)
	})
}

// flush enqueues every collected signal. Failures are logged; the state
// they describe is already committed.
func (o *outbox) flush(ctx context.Context, transport Transport, logger *logrus.Logger) {
	if len(o.syncEntries) > 0 {
		if err := transport.EmitReadReceiptSync(ctx, o.syncEntries); err != nil {
			metrics.IncrementCounter("receipt_emissions_failed_total", map[string]string{"signal": "read_receipt_sync"}, "Signals the transport refused")
			logger.WithError(err).WithField(LogFieldCount, len(o.syncEntries)).Error("Failed to emit read receipt sync")
		} else {
			metrics.AddToCounter("receipt_emissions_total", float64(len(o.syncEntries)), map[string]string{"signal": "read_receipt_sync"}, "Signals handed to the transport")
		}
	}

	for _, r := range o.receipts {
		if err := transport.EmitReadReceipt(ctx, r.recipient, r.messageIDTimestamp, r.readTimestamp); err != nil {
			metrics.IncrementCounter("receipt_emissions_failed_total", map[string]string{"signal": "read_receipt"}, "Signals the transport refused")
			LogWithContext(ctx, logger).WithError(err).WithField(LogFieldSender, SanitizeAddress(ctx, r.recipient)).
				Error("Failed to emit read receipt")
			continue
		}
		metrics.IncrementCounter("receipt_emissions_total", map[string]string{"signal": "read_receipt"}, "Signals handed to the transport")
	}
}
