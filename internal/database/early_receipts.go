package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"receiptsync/internal/models"

	"github.com/google/uuid"
)

// PutLinkedDeviceReceipt stores a linked device receipt whose message is not
// known yet. A later put for the same sender and message timestamp replaces
// the earlier one regardless of read timestamps.
func (t *Tx) PutLinkedDeviceReceipt(ctx context.Context, receipt *models.LinkedDeviceReadReceipt) error {
	encSender, err := t.db.encryptor.encryptAddress(receipt.SenderAddress)
	if err != nil {
		return fmt.Errorf("failed to encrypt sender: %w", err)
	}

	if receipt.UniqueID == "" {
		receipt.UniqueID = uuid.NewString()
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO linked_device_read_receipts (unique_id, sender_address, message_id_timestamp, read_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sender_address, message_id_timestamp) DO UPDATE SET
			unique_id = excluded.unique_id,
			read_timestamp = excluded.read_timestamp,
			created_at = CURRENT_TIMESTAMP`,
		receipt.UniqueID, encSender, receipt.MessageIDTimestamp, receipt.ReadTimestamp)
	if err != nil {
		return fmt.Errorf("failed to save linked device receipt: %w", err)
	}
	return nil
}

// TakeLinkedDeviceReceipt returns and deletes the early receipt for a
// message, or nil when there is none.
func (t *Tx) TakeLinkedDeviceReceipt(ctx context.Context, sender string, messageIDTimestamp uint64) (*models.LinkedDeviceReadReceipt, error) {
	encSender, err := t.db.encryptor.encryptAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt sender: %w", err)
	}

	receipt := &models.LinkedDeviceReadReceipt{SenderAddress: sender}
	err = t.q.QueryRowContext(ctx, `
		SELECT unique_id, message_id_timestamp, read_timestamp, created_at
		FROM linked_device_read_receipts
		WHERE sender_address = ? AND message_id_timestamp = ?`, encSender, messageIDTimestamp).
		Scan(&receipt.UniqueID, &receipt.MessageIDTimestamp, &receipt.ReadTimestamp, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load linked device receipt: %w", err)
	}

	if _, err := t.q.ExecContext(ctx, `
		DELETE FROM linked_device_read_receipts
		WHERE sender_address = ? AND message_id_timestamp = ?`, encSender, messageIDTimestamp); err != nil {
		return nil, fmt.Errorf("failed to delete linked device receipt: %w", err)
	}

	return receipt, nil
}

// MergeRecipientReadTimestamp adds recipient to the early read map of a sent
// message. An existing entry only ever moves to an earlier timestamp.
func (t *Tx) MergeRecipientReadTimestamp(ctx context.Context, sentTimestamp uint64, recipient string, readTimestamp uint64) error {
	encRecipient, err := t.db.encryptor.encryptAddress(recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt recipient: %w", err)
	}

	// Rows of one sent message share the unique id of the first row.
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO recipient_read_receipts (unique_id, sent_timestamp, recipient, read_timestamp)
		VALUES (
			COALESCE((SELECT unique_id FROM recipient_read_receipts WHERE sent_timestamp = ? LIMIT 1), ?),
			?, ?, ?)
		ON CONFLICT(sent_timestamp, recipient) DO UPDATE SET
			read_timestamp = MIN(read_timestamp, excluded.read_timestamp)`,
		sentTimestamp, uuid.NewString(), sentTimestamp, encRecipient, readTimestamp)
	if err != nil {
		return fmt.Errorf("failed to merge recipient read timestamp: %w", err)
	}
	return nil
}

// TakeRecipientReadReceipt returns and deletes the early read map of a sent
// message, or nil when there is none.
func (t *Tx) TakeRecipientReadReceipt(ctx context.Context, sentTimestamp uint64) (*models.RecipientReadReceipt, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT unique_id, recipient, read_timestamp, created_at
		FROM recipient_read_receipts
		WHERE sent_timestamp = ?
		ORDER BY created_at`, sentTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient receipts: %w", err)
	}

	var receipt *models.RecipientReadReceipt
	for rows.Next() {
		var uniqueID, recipient string
		var readTimestamp uint64
		var createdAt sql.NullTime
		if err := rows.Scan(&uniqueID, &recipient, &readTimestamp, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan recipient receipt: %w", err)
		}

		plain, err := t.db.encryptor.decryptAddress(recipient)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to decrypt recipient: %w", err)
		}

		if receipt == nil {
			receipt = &models.RecipientReadReceipt{
				UniqueID:      uniqueID,
				SentTimestamp: sentTimestamp,
				RecipientMap:  make(map[string]uint64),
				CreatedAt:     createdAt.Time,
			}
		}
		receipt.RecipientMap[plain] = readTimestamp
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate recipient receipts: %w", err)
	}
	_ = rows.Close()

	if receipt == nil {
		return nil, nil
	}

	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM recipient_read_receipts WHERE sent_timestamp = ?`, sentTimestamp); err != nil {
		return nil, fmt.Errorf("failed to delete recipient receipts: %w", err)
	}
	return receipt, nil
}
