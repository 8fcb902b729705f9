package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "receiptsync/internal/errors"
	"receiptsync/internal/models"
	"receiptsync/internal/store"

	"github.com/mattn/go-sqlite3"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a unit of work against the database. Inside Database.WriteTx it
// wraps a *sql.Tx; inside ReadTx it reads straight from the pool.
type Tx struct {
	q           querier
	db          *Database
	commitHooks []func()
}

var (
	_ store.WriteTx = (*Tx)(nil)
	_ store.ReadTx  = (*Tx)(nil)
)

// AddCommitHook schedules hook to run once the transaction has committed.
func (t *Tx) AddCommitHook(hook func()) {
	t.commitHooks = append(t.commitHooks, hook)
}

const messageColumns = `id, thread_id, direction, sender, timestamp, read, read_timestamp, created_at`

func (t *Tx) scanMessage(ctx context.Context, row *sql.Row) (*models.Message, error) {
	msg := &models.Message{}
	var direction, sender string
	err := row.Scan(&msg.ID, &msg.ThreadID, &direction, &sender, &msg.Timestamp,
		&msg.Read, &msg.ReadTimestamp, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.Direction = models.Direction(direction)

	if msg.Sender, err = t.db.encryptor.decryptAddress(sender); err != nil {
		return nil, fmt.Errorf("failed to decrypt sender: %w", err)
	}

	if msg.IsOutgoing() {
		if msg.RecipientReads, err = t.recipientReads(ctx, msg.ID); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (t *Tx) recipientReads(ctx context.Context, messageID int64) (map[string]uint64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT recipient, read_timestamp FROM recipient_read_states WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipient read states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reads := make(map[string]uint64)
	for rows.Next() {
		var recipient string
		var readTimestamp uint64
		if err := rows.Scan(&recipient, &readTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan recipient read state: %w", err)
		}
		plain, err := t.db.encryptor.decryptAddress(recipient)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt recipient: %w", err)
		}
		reads[plain] = readTimestamp
	}
	return reads, rows.Err()
}

// FindIncomingMessage looks a received message up by its identity.
func (t *Tx) FindIncomingMessage(ctx context.Context, sender string, messageIDTimestamp uint64) (*models.Message, error) {
	encSender, err := t.db.encryptor.encryptAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt sender: %w", err)
	}

	row := t.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE direction = 'incoming' AND sender = ? AND timestamp = ?`, encSender, messageIDTimestamp)
	msg, err := t.scanMessage(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to find incoming message: %w", err)
	}
	return msg, nil
}

// FindOutgoingMessage looks a sent message up by its sent timestamp.
func (t *Tx) FindOutgoingMessage(ctx context.Context, sentTimestamp uint64) (*models.Message, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE direction = 'outgoing' AND timestamp = ? ORDER BY id LIMIT 1`, sentTimestamp)
	msg, err := t.scanMessage(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to find outgoing message: %w", err)
	}
	return msg, nil
}

func (t *Tx) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := t.scanMessage(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// InsertMessage stores msg, creating its thread when needed, then fires the
// insert hooks inside the same transaction.
func (t *Tx) InsertMessage(ctx context.Context, msg *models.Message) error {
	encSender, err := t.db.encryptor.encryptAddress(msg.Sender)
	if err != nil {
		return fmt.Errorf("failed to encrypt sender: %w", err)
	}

	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO threads (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, msg.ThreadID); err != nil {
		return fmt.Errorf("failed to ensure thread: %w", err)
	}

	result, err := t.q.ExecContext(ctx, `
		INSERT INTO messages (thread_id, direction, sender, timestamp, read, read_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ThreadID, string(msg.Direction), encSender, msg.Timestamp, msg.Read, msg.ReadTimestamp)
	if isUniqueViolation(err) {
		return apperrors.NewConflictError("message",
			fmt.Sprintf("incoming message %d from this sender is already stored", msg.Timestamp))
	}
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if msg.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}

	for recipient, readTimestamp := range msg.RecipientReads {
		if err := t.SetRecipientReadTimestamp(ctx, msg.ID, recipient, readTimestamp); err != nil {
			return err
		}
	}

	for _, hook := range t.db.insertHooks() {
		if err := hook(ctx, t, msg); err != nil {
			return err
		}
	}
	return nil
}

// MarkMessageRead sets the read flag and read timestamp of a message.
func (t *Tx) MarkMessageRead(ctx context.Context, id int64, readTimestamp uint64) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE messages SET read = 1, read_timestamp = ? WHERE id = ?`, readTimestamp, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to mark message read: message %d not found", id)
	}
	return nil
}

func (t *Tx) SetRecipientReadTimestamp(ctx context.Context, messageID int64, recipient string, readTimestamp uint64) error {
	encRecipient, err := t.db.encryptor.encryptAddress(recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt recipient: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO recipient_read_states (message_id, recipient, read_timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, recipient) DO UPDATE SET
			read_timestamp = MIN(read_timestamp, excluded.read_timestamp)`,
		messageID, encRecipient, readTimestamp)
	if err != nil {
		return fmt.Errorf("failed to set recipient read timestamp: %w", err)
	}
	return nil
}

func (t *Tx) UnreadIncomingMessagesBefore(ctx context.Context, threadID string, sortID int64) ([]*models.Message, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, sender, timestamp FROM messages
		WHERE thread_id = ? AND direction = 'incoming' AND read = 0 AND id <= ?
		ORDER BY id`, threadID, sortID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{ThreadID: threadID, Direction: models.DirectionIncoming}
		var sender string
		if err := rows.Scan(&msg.ID, &sender, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan unread message: %w", err)
		}
		if msg.Sender, err = t.db.encryptor.decryptAddress(sender); err != nil {
			return nil, fmt.Errorf("failed to decrypt sender: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (t *Tx) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	thread := &models.Thread{}
	err := t.q.QueryRowContext(ctx,
		`SELECT id, has_pending_message_request, updated_at FROM threads WHERE id = ?`, threadID).
		Scan(&thread.ID, &thread.HasPendingMessageRequest, &thread.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

func (t *Tx) SetThreadPendingMessageRequest(ctx context.Context, threadID string, pending bool) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO threads (id, has_pending_message_request) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET has_pending_message_request = excluded.has_pending_message_request`,
		threadID, pending)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
