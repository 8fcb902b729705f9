package service

import (
	"context"
	"fmt"
	"time"

	"receiptsync/internal/errors"
	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	pipelineLinkedDevice = "linked_device"
	pipelineRecipient    = "recipient"
	pipelineLocalRead    = "local_read"
	pipelineReplay       = "replay"
)

// Reconciler holds the receipt pipelines. Every method runs inside the
// caller's transaction and takes no locks of its own.
type Reconciler struct {
	settings  *SettingsStore
	transport Transport
	logger    *logrus.Logger
	now       func() time.Time
}

func NewReconciler(settings *SettingsStore, transport Transport, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		settings:  settings,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Reconciler) nowMillis() uint64 {
	return uint64(r.now().UnixMilli())
}

// supersedes reports whether readTimestamp should replace the recorded one.
// A message is read at the first moment any device read it.
func supersedes(recorded, readTimestamp uint64) bool {
	return recorded == 0 || readTimestamp < recorded
}

// applyLinkedDeviceBatch handles reads reported by this account's linked
// devices. Known messages are marked read without emitting anything; unknown
// ones are parked until the message arrives.
func (r *Reconciler) applyLinkedDeviceBatch(ctx context.Context, tx store.WriteTx, batch models.LinkedDeviceBatch) (models.BatchResult, error) {
	var result models.BatchResult

	for _, entry := range batch.Entries {
		msg, err := tx.FindIncomingMessage(ctx, entry.SenderAddress, entry.MessageIDTimestamp)
		if err != nil {
			return result, err
		}

		if msg == nil {
			err := tx.PutLinkedDeviceReceipt(ctx, &models.LinkedDeviceReadReceipt{
				SenderAddress:      entry.SenderAddress,
				MessageIDTimestamp: entry.MessageIDTimestamp,
				ReadTimestamp:      batch.ReadTimestamp,
			})
			if err != nil {
				return result, err
			}
			result.Queued++
			continue
		}

		thread, err := tx.GetThread(ctx, msg.ThreadID)
		if err != nil {
			return result, err
		}
		circumstance := models.CircumstanceFor(true, thread != nil && thread.HasPendingMessageRequest)

		applied, err := r.markRead(ctx, tx, msg, thread, circumstance, batch.ReadTimestamp, nil)
		if err != nil {
			return result, err
		}
		if applied {
			result.Applied++
		} else {
			result.AlreadyRead++
		}
	}

	return result, nil
}

// applyRecipientBatch records that sender read messages this account sent.
// The earliest read timestamp per recipient wins, both on stored messages
// and in the early map.
func (r *Reconciler) applyRecipientBatch(ctx context.Context, tx store.WriteTx, batch models.RecipientBatch) (models.BatchResult, error) {
	var result models.BatchResult

	for _, sentTimestamp := range batch.SentTimestamps {
		msg, err := tx.FindOutgoingMessage(ctx, sentTimestamp)
		if err != nil {
			return result, err
		}

		if msg == nil {
			if err := tx.MergeRecipientReadTimestamp(ctx, sentTimestamp, batch.SenderAddress, batch.ReadTimestamp); err != nil {
				return result, err
			}
			result.Queued++
			continue
		}

		if !supersedes(msg.RecipientReads[batch.SenderAddress], batch.ReadTimestamp) {
			result.AlreadyRead++
			continue
		}
		if err := tx.SetRecipientReadTimestamp(ctx, msg.ID, batch.SenderAddress, batch.ReadTimestamp); err != nil {
			return result, err
		}
		result.Applied++
	}

	return result, nil
}

// markRead marks an incoming message read, keeping the earliest read
// timestamp, and collects the signals its circumstance calls for into out.
// It reports false when the message already carried an earlier or equal read.
func (r *Reconciler) markRead(ctx context.Context, tx store.WriteTx, msg *models.Message, thread *models.Thread,
	circumstance models.ReadCircumstance, readTimestamp uint64, out *outbox) (bool, error) {
	if msg.Read && !supersedes(msg.ReadTimestamp, readTimestamp) {
		return false, nil
	}

	if err := tx.MarkMessageRead(ctx, msg.ID, readTimestamp); err != nil {
		return false, err
	}
	msg.Read = true
	msg.ReadTimestamp = readTimestamp
	if out == nil {
		out = &outbox{}
	}

	LogWithContext(ctx, r.logger).WithFields(logrus.Fields{
		LogFieldMessageID:    msg.ID,
		LogFieldCircumstance: circumstance.String(),
		LogFieldReadAt:       readTimestamp,
	}).Debug("Marked message read")

	switch circumstance {
	case models.ReadOnLinkedDevice, models.ReadOnLinkedDeviceWhilePendingMessageRequest:
		// The linked device that read it syncs and acknowledges on its own.
		return true, nil

	case models.ReadOnThisDevice:
		out.addSync(models.ReadReceiptSyncEntry{
			SenderAddress:      msg.Sender,
			MessageIDTimestamp: msg.Timestamp,
			ReadTimestamp:      readTimestamp,
		})
		enabled, err := r.settings.areReadReceiptsEnabledTx(ctx, tx)
		if err != nil {
			return false, err
		}
		if enabled {
			out.addReceipt(msg.Sender, msg.Timestamp, readTimestamp)
		}
		return true, nil

	case models.ReadOnThisDeviceWhilePendingMessageRequest:
		enabled, err := r.settings.areReadReceiptsEnabledTx(ctx, tx)
		if err != nil {
			return false, err
		}
		if !enabled {
			return true, nil
		}
		threadID := msg.ThreadID
		if thread != nil {
			threadID = thread.ID
		}
		err = tx.RecordPendingReadReceipt(ctx, &models.PendingReadReceipt{
			ThreadID:           threadID,
			MessageID:          msg.ID,
			SenderAddress:      msg.Sender,
			MessageIDTimestamp: msg.Timestamp,
			ReadTimestamp:      readTimestamp,
		})
		return err == nil, err

	default:
		return false, errors.NewInvalidInputError(fmt.Sprintf("unknown read circumstance %d", int(circumstance)))
	}
}

// replayEarlyReceipts is the insert hook. It applies whatever early receipt
// waited for msg and removes it, inside the inserting transaction.
func (r *Reconciler) replayEarlyReceipts(ctx context.Context, tx store.WriteTx, msg *models.Message) error {
	switch msg.Direction {
	case models.DirectionIncoming:
		return r.replayLinkedDeviceReceipt(ctx, tx, msg)
	case models.DirectionOutgoing:
		return r.replayRecipientReceipts(ctx, tx, msg)
	default:
		return nil
	}
}

func (r *Reconciler) replayLinkedDeviceReceipt(ctx context.Context, tx store.WriteTx, msg *models.Message) error {
	receipt, err := tx.TakeLinkedDeviceReceipt(ctx, msg.Sender, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to take early linked device receipt: %w", err)
	}
	if receipt == nil {
		return nil
	}

	thread, err := tx.GetThread(ctx, msg.ThreadID)
	if err != nil {
		return err
	}
	circumstance := models.CircumstanceFor(true, thread != nil && thread.HasPendingMessageRequest)

	applied, err := r.markRead(ctx, tx, msg, thread, circumstance, receipt.ReadTimestamp, nil)
	if err != nil {
		return err
	}

	metrics.IncrementCounter("early_receipts_replayed_total", map[string]string{"kind": pipelineLinkedDevice}, "Early receipts applied on message arrival")
	LogWithContext(ctx, r.logger).WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldPipeline:  pipelineReplay,
		LogFieldApplied:   applied,
	}).Debug("Replayed early linked device receipt")
	return nil
}

// replayRecipientReceipts also covers outgoing messages sent from a linked
// device, which reach this store only after their receipts may have.
func (r *Reconciler) replayRecipientReceipts(ctx context.Context, tx store.WriteTx, msg *models.Message) error {
	receipt, err := tx.TakeRecipientReadReceipt(ctx, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to take early recipient receipts: %w", err)
	}
	if receipt == nil {
		return nil
	}

	if msg.RecipientReads == nil {
		msg.RecipientReads = make(map[string]uint64, len(receipt.RecipientMap))
	}
	for recipient, readTimestamp := range receipt.RecipientMap {
		if !supersedes(msg.RecipientReads[recipient], readTimestamp) {
			continue
		}
		if err := tx.SetRecipientReadTimestamp(ctx, msg.ID, recipient, readTimestamp); err != nil {
			return err
		}
		msg.RecipientReads[recipient] = readTimestamp
	}

	metrics.AddToCounter("early_receipts_replayed_total", float64(len(receipt.RecipientMap)),
		map[string]string{"kind": pipelineRecipient}, "Early receipts applied on message arrival")
	LogWithContext(ctx, r.logger).WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldPipeline:  pipelineReplay,
		LogFieldCount:     len(receipt.RecipientMap),
	}).Debug("Replayed early recipient receipts")
	return nil
}
