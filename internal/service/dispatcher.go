package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"receiptsync/internal/errors"
	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/store"
	"receiptsync/internal/tracing"
	"receiptsync/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher is the entry point for receipt traffic. It validates input,
// opens or joins transactions and routes each receipt kind to its pipeline.
// All methods are safe for concurrent use.
type Dispatcher struct {
	runner    store.Runner
	engine    *Reconciler
	settings  *SettingsStore
	transport Transport
	logger    *logrus.Logger

	inflight sync.WaitGroup
}

// NewDispatcher wires the pipelines to runner and registers early receipt
// replay on message insertion.
func NewDispatcher(runner store.Runner, transport Transport, configSyncDebounce time.Duration, logger *logrus.Logger) *Dispatcher {
	settings := NewSettingsStore(runner, transport, configSyncDebounce, logger)
	engine := NewReconciler(settings, transport, logger)
	runner.OnMessageInserted(engine.replayEarlyReceipts)

	return &Dispatcher{
		runner:    runner,
		engine:    engine,
		settings:  settings,
		transport: transport,
		logger:    logger,
	}
}

// Settings exposes the read receipts setting.
func (d *Dispatcher) Settings() *SettingsStore {
	return d.settings
}

func (d *Dispatcher) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	spanCtx, span := tracing.StartSpan(ctx, "receipts."+operation, attrs...)

	return spanCtx, func(err error) {
		labels := map[string]string{"operation": operation}
		metrics.RecordTimer("receipt_operation_duration", time.Since(start), labels, "Duration of receipt operations")
		if err != nil {
			tracing.RecordError(spanCtx, err)
			labels["code"] = string(errors.GetCode(err))
			metrics.IncrementCounter("receipt_operation_errors_total", labels, "Failed receipt operations")
			d.logFailure(operation, err)
		}
		span.End()
	}
}

func (d *Dispatcher) logFailure(operation string, err error) {
	appLog := &errors.Logger{Logger: d.logger}
	appLog.LogRejection(err, "Receipt operation failed", logrus.Fields{LogFieldOperation: operation})
}

func recordBatch(pipeline string, result models.BatchResult) {
	labels := map[string]string{"pipeline": pipeline}
	metrics.AddToCounter("receipts_applied_total", float64(result.Applied), labels, "Receipts applied to stored messages")
	metrics.AddToCounter("receipts_already_read_total", float64(result.AlreadyRead), labels, "Receipts that changed nothing")
	metrics.AddToCounter("receipts_queued_total", float64(result.Queued), labels, "Receipts parked until their message arrives")
}

// transactionError keeps AppErrors as they are and marks anything else as an
// aborted transaction.
func transactionError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.NewTransactionError(operation, err)
}

// AreReadReceiptsEnabled returns the cached read receipts setting.
func (d *Dispatcher) AreReadReceiptsEnabled(ctx context.Context) (bool, error) {
	return d.settings.AreReadReceiptsEnabled(ctx)
}

// PrepareCachedValues warms the settings cache.
func (d *Dispatcher) PrepareCachedValues(ctx context.Context) error {
	return d.settings.PrepareCachedValues(ctx)
}

// SetReadReceiptsEnabled persists the setting inside the caller's transaction.
func (d *Dispatcher) SetReadReceiptsEnabled(ctx context.Context, tx store.WriteTx, enabled bool) error {
	return transactionError("set read receipts", d.settings.SetReadReceiptsEnabled(ctx, tx, enabled))
}

// SetReadReceiptsEnabledAndSync persists the setting in its own transaction
// and syncs it to linked devices.
func (d *Dispatcher) SetReadReceiptsEnabledAndSync(ctx context.Context, enabled bool) (err error) {
	ctx, done := d.observe(ctx, "set_read_receipts_and_sync", attribute.Bool("enabled", enabled))
	defer func() { done(err) }()

	return transactionError("set read receipts", d.settings.SetReadReceiptsEnabledAndSync(ctx, enabled))
}

// ProcessReadReceiptsFromRecipient records that sender read the messages this
// account sent at sentTimestamps. It opens its own transaction.
func (d *Dispatcher) ProcessReadReceiptsFromRecipient(ctx context.Context, sender string, sentTimestamps []uint64, readTimestamp uint64) (result models.BatchResult, err error) {
	ctx, done := d.observe(ctx, "process_from_recipient", attribute.Int("batch_size", len(sentTimestamps)))
	defer func() { done(err) }()

	batch := models.RecipientBatch{SenderAddress: sender, SentTimestamps: sentTimestamps, ReadTimestamp: readTimestamp}
	if err := validation.ValidateRecipientBatch(batch); err != nil {
		return models.BatchResult{}, err
	}

	err = d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
		var txErr error
		result, txErr = d.engine.applyRecipientBatch(ctx, tx, batch)
		return txErr
	})
	if err != nil {
		return models.BatchResult{}, transactionError("recipient receipt batch", err)
	}

	recordBatch(pipelineRecipient, result)
	LogBatchResult(ctx, d.logger, pipelineRecipient, result)
	return result, nil
}

// ProcessReadReceiptsFromLinkedDevice applies a read sync from one of this
// account's linked devices inside the caller's transaction. An error leaves
// tx to be rolled back by the caller.
func (d *Dispatcher) ProcessReadReceiptsFromLinkedDevice(ctx context.Context, tx store.WriteTx, entries []models.LinkedDeviceReadEntry, readTimestamp uint64) (result models.BatchResult, err error) {
	ctx, done := d.observe(ctx, "process_from_linked_device", attribute.Int("batch_size", len(entries)))
	defer func() { done(err) }()

	batch := models.LinkedDeviceBatch{Entries: entries, ReadTimestamp: readTimestamp}
	if err := validation.ValidateLinkedDeviceBatch(batch); err != nil {
		return models.BatchResult{}, err
	}

	result, err = d.engine.applyLinkedDeviceBatch(ctx, tx, batch)
	if err != nil {
		return models.BatchResult{}, transactionError("linked device receipt batch", err)
	}

	tx.AddCommitHook(func() {
		recordBatch(pipelineLinkedDevice, result)
		LogBatchResult(ctx, d.logger, pipelineLinkedDevice, result)
	})
	return result, nil
}

// ProcessReadSync validates a linked device read sync in its wire shape and
// applies it in a transaction of its own.
func (d *Dispatcher) ProcessReadSync(ctx context.Context, wire models.ReadSyncWire) (models.BatchResult, error) {
	if err := validation.ValidateReadSyncWire(wire); err != nil {
		return models.BatchResult{}, err
	}
	batch := wire.Batch()
	return d.Dispatch(ctx, models.ReceiptEvent{Kind: models.KindLinkedDeviceIncoming, LinkedDevice: &batch})
}

// MessageWasRead marks msg read on behalf of circumstance inside the
// caller's transaction. A read on this device syncs to linked devices and,
// when enabled, acknowledges to the sender once tx commits. While a message
// request is pending neither happens; the sender receipt is held back until
// the request is accepted.
func (d *Dispatcher) MessageWasRead(ctx context.Context, tx store.WriteTx, msg *models.Message, thread *models.Thread, circumstance models.ReadCircumstance) (err error) {
	ctx, done := d.observe(ctx, "message_was_read", attribute.String("circumstance", circumstance.String()))
	defer func() { done(err) }()

	if msg == nil {
		return errors.NewInvalidInputError("message is required")
	}
	if err := validation.ValidateCircumstance(circumstance); err != nil {
		return err
	}
	if !msg.IsIncoming() {
		return errors.NewInvalidInputError("only incoming messages can be marked read")
	}

	current, err := tx.GetMessage(ctx, msg.ID)
	if err != nil {
		return transactionError("message was read", err)
	}
	if current == nil {
		return errors.NewNotFoundError("message", fmt.Sprintf("%d", msg.ID))
	}

	out := &outbox{}
	applied, err := d.engine.markRead(ctx, tx, current, thread, circumstance, d.engine.nowMillis(), out)
	if err != nil {
		return transactionError("message was read", err)
	}
	out.flushOnCommit(ctx, tx, d.transport, d.logger)

	msg.Read = current.Read
	msg.ReadTimestamp = current.ReadTimestamp

	if applied {
		metrics.IncrementCounter("messages_marked_read_total", map[string]string{"circumstance": circumstance.String()}, "Messages marked read")
	}
	return nil
}

// MarkAsReadLocallyBeforeSortID marks every unread incoming message of thread
// with a sort id up to and including sortID as read on this device. It returns
// immediately; the work runs in one transaction on its own goroutine and
// ignores cancellation of ctx. onComplete is called exactly once, after the
// commit and after the resulting signals were enqueued, or with the error.
func (d *Dispatcher) MarkAsReadLocallyBeforeSortID(ctx context.Context, sortID int64, thread *models.Thread, hasPendingMessageRequest bool, onComplete func(error)) {
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		count, err := d.markAsReadLocallyBeforeSortID(ctx, sortID, thread, hasPendingMessageRequest)
		if err == nil {
			d.logger.WithFields(logrus.Fields{
				LogFieldSortID: sortID,
				LogFieldCount:  count,
			}).Info("Completed bulk mark read")
		}

		if onComplete != nil {
			onComplete(err)
		}
	}()
}

func (d *Dispatcher) markAsReadLocallyBeforeSortID(ctx context.Context, sortID int64, thread *models.Thread, hasPendingMessageRequest bool) (count int, err error) {
	ctx, done := d.observe(ctx, "mark_read_before_sort_id", attribute.Int64("sort_id", sortID))
	defer func() { done(err) }()

	if thread == nil || thread.ID == "" {
		return 0, errors.NewInvalidInputError("thread is required")
	}
	if sortID <= 0 {
		return 0, errors.NewInvalidInputError("sort id must be positive")
	}

	circumstance := models.CircumstanceFor(false, hasPendingMessageRequest)
	err = d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
		unread, err := tx.UnreadIncomingMessagesBefore(ctx, thread.ID, sortID)
		if err != nil {
			return err
		}

		readTimestamp := d.engine.nowMillis()
		out := &outbox{}
		for _, msg := range unread {
			applied, err := d.engine.markRead(ctx, tx, msg, thread, circumstance, readTimestamp, out)
			if err != nil {
				return err
			}
			if applied {
				count++
			}
		}
		out.flushOnCommit(ctx, tx, d.transport, d.logger)
		return nil
	})
	if err != nil {
		return 0, transactionError("mark read before sort id", err)
	}

	metrics.AddToCounter("messages_marked_read_total", float64(count), map[string]string{"circumstance": circumstance.String()}, "Messages marked read")
	return count, nil
}

// MessageRequestAccepted clears the thread's pending message request and
// releases the sender receipts held back meanwhile, if read receipts are
// still enabled. It returns how many receipts were released.
func (d *Dispatcher) MessageRequestAccepted(ctx context.Context, threadID string) (released int, err error) {
	ctx, done := d.observe(ctx, "message_request_accepted")
	defer func() { done(err) }()

	if threadID == "" {
		return 0, errors.NewInvalidInputError("thread id is required")
	}

	err = d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
		if err := tx.SetThreadPendingMessageRequest(ctx, threadID, false); err != nil {
			return err
		}

		pending, err := tx.TakePendingReadReceipts(ctx, threadID)
		if err != nil {
			return err
		}

		enabled, err := d.settings.areReadReceiptsEnabledTx(ctx, tx)
		if err != nil {
			return err
		}
		if !enabled {
			return nil
		}

		out := &outbox{}
		for _, p := range pending {
			out.addReceipt(p.SenderAddress, p.MessageIDTimestamp, p.ReadTimestamp)
		}
		out.flushOnCommit(ctx, tx, d.transport, d.logger)
		released = len(pending)
		return nil
	})
	if err != nil {
		return 0, transactionError("accept message request", err)
	}

	d.logger.WithFields(logrus.Fields{
		LogFieldThreadID: threadID,
		LogFieldCount:    released,
	}).Info("Message request accepted")
	return released, nil
}

// InsertMessage stores a message. Early receipts waiting for it are applied
// in the same transaction. A non-nil pendingMessageRequest updates the
// thread's message request state first.
func (d *Dispatcher) InsertMessage(ctx context.Context, msg *models.Message, pendingMessageRequest *bool) (err error) {
	ctx, done := d.observe(ctx, "insert_message")
	defer func() { done(err) }()

	if err := validateNewMessage(msg); err != nil {
		return err
	}

	err = d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
		if pendingMessageRequest != nil {
			if err := tx.SetThreadPendingMessageRequest(ctx, msg.ThreadID, *pendingMessageRequest); err != nil {
				return err
			}
		}
		return tx.InsertMessage(ctx, msg)
	})
	return transactionError("insert message", err)
}

func validateNewMessage(msg *models.Message) error {
	if msg == nil {
		return errors.NewInvalidInputError("message is required")
	}
	if msg.ThreadID == "" {
		return errors.NewInvalidInputError("thread id is required")
	}
	if err := validation.ValidateTimestamp(msg.Timestamp, "message timestamp"); err != nil {
		return err
	}
	switch msg.Direction {
	case models.DirectionIncoming:
		return validation.ValidateAddress(msg.Sender)
	case models.DirectionOutgoing:
		return nil
	default:
		return errors.NewInvalidInputError(fmt.Sprintf("unknown message direction %q", msg.Direction))
	}
}

// Dispatch routes a receipt event to its pipeline, opening a transaction
// for the kinds that need one.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.ReceiptEvent) (models.BatchResult, error) {
	switch event.Kind {
	case models.KindLinkedDeviceIncoming:
		if event.LinkedDevice == nil {
			return models.BatchResult{}, errors.NewInvalidInputError("linked device payload is required")
		}
		// Validate before opening the transaction.
		if err := validation.ValidateLinkedDeviceBatch(*event.LinkedDevice); err != nil {
			return models.BatchResult{}, err
		}
		var result models.BatchResult
		err := d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
			var txErr error
			result, txErr = d.ProcessReadReceiptsFromLinkedDevice(ctx, tx, event.LinkedDevice.Entries, event.LinkedDevice.ReadTimestamp)
			return txErr
		})
		if err != nil {
			return models.BatchResult{}, transactionError("linked device receipt batch", err)
		}
		return result, nil

	case models.KindRecipientIncoming:
		if event.Recipient == nil {
			return models.BatchResult{}, errors.NewInvalidInputError("recipient payload is required")
		}
		return d.ProcessReadReceiptsFromRecipient(ctx, event.Recipient.SenderAddress, event.Recipient.SentTimestamps, event.Recipient.ReadTimestamp)

	case models.KindLocalRead:
		if event.LocalRead == nil {
			return models.BatchResult{}, errors.NewInvalidInputError("local read payload is required")
		}
		if err := validation.ValidateCircumstance(event.LocalRead.Circumstance); err != nil {
			return models.BatchResult{}, err
		}
		var result models.BatchResult
		err := d.runner.WriteTx(ctx, func(tx store.WriteTx) error {
			msg, err := tx.GetMessage(ctx, event.LocalRead.MessageID)
			if err != nil {
				return err
			}
			if msg == nil {
				return errors.NewNotFoundError("message", fmt.Sprintf("%d", event.LocalRead.MessageID))
			}
			wasRead, previous := msg.Read, msg.ReadTimestamp

			thread, err := tx.GetThread(ctx, msg.ThreadID)
			if err != nil {
				return err
			}
			if err := d.MessageWasRead(ctx, tx, msg, thread, event.LocalRead.Circumstance); err != nil {
				return err
			}

			if wasRead && msg.ReadTimestamp == previous {
				result.AlreadyRead++
			} else {
				result.Applied++
			}
			return nil
		})
		if err != nil {
			return models.BatchResult{}, transactionError("local read", err)
		}
		return result, nil

	case models.KindConfigSync:
		if event.ConfigSync == nil {
			return models.BatchResult{}, errors.NewInvalidInputError("config sync payload is required")
		}
		return models.BatchResult{}, d.SetReadReceiptsEnabledAndSync(ctx, event.ConfigSync.ReadReceiptsEnabled)

	default:
		return models.BatchResult{}, errors.NewInvalidInputError(fmt.Sprintf("unknown receipt kind %q", event.Kind))
	}
}

// Wait blocks until every bulk mark-read started so far has completed.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Close waits for in-flight work and sends any debounced configuration sync.
func (d *Dispatcher) Close() {
	d.Wait()
	d.settings.Flush()
}
