package database

import (
	"context"
	"fmt"

	"receiptsync/internal/models"
)

// RecordPendingReadReceipt withholds a sender receipt until the thread's
// message request is accepted. Recording the same message twice keeps the
// first read.
func (t *Tx) RecordPendingReadReceipt(ctx context.Context, receipt *models.PendingReadReceipt) error {
	encSender, err := t.db.encryptor.encryptAddress(receipt.SenderAddress)
	if err != nil {
		return fmt.Errorf("failed to encrypt sender: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO pending_read_receipts (thread_id, message_id, sender_address, message_id_timestamp, read_timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, message_id) DO NOTHING`,
		receipt.ThreadID, receipt.MessageID, encSender, receipt.MessageIDTimestamp, receipt.ReadTimestamp)
	if err != nil {
		return fmt.Errorf("failed to record pending read receipt: %w", err)
	}
	return nil
}

// TakePendingReadReceipts returns and deletes the withheld receipts of a thread.
func (t *Tx) TakePendingReadReceipts(ctx context.Context, threadID string) ([]*models.PendingReadReceipt, error) {
	receipts, err := t.listPendingReadReceipts(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, nil
	}

	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM pending_read_receipts WHERE thread_id = ?`, threadID); err != nil {
		return nil, fmt.Errorf("failed to delete pending read receipts: %w", err)
	}
	return receipts, nil
}

func (t *Tx) listPendingReadReceipts(ctx context.Context, threadID string) ([]*models.PendingReadReceipt, error) {
	query := `SELECT id, thread_id, message_id, sender_address, message_id_timestamp, read_timestamp, created_at
		FROM pending_read_receipts`
	var args []any
	if threadID != "" {
		query += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY id`

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending read receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []*models.PendingReadReceipt
	for rows.Next() {
		r := &models.PendingReadReceipt{}
		var sender string
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.MessageID, &sender,
			&r.MessageIDTimestamp, &r.ReadTimestamp, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending read receipt: %w", err)
		}
		if r.SenderAddress, err = t.db.encryptor.decryptAddress(sender); err != nil {
			return nil, fmt.Errorf("failed to decrypt sender: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
