package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// GetBool reads a boolean from the key-value store. found is false when the
// key was never written.
func (t *Tx) GetBool(ctx context.Context, collection, key string) (bool, bool, error) {
	var raw string
	err := t.q.QueryRowContext(ctx,
		`SELECT value FROM key_value_store WHERE collection = ? AND key = ?`, collection, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean stored at %s/%s: %w", collection, key, err)
	}
	return value, true, nil
}

func (t *Tx) SetBool(ctx context.Context, collection, key string, value bool) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO key_value_store (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		collection, key, strconv.FormatBool(value))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	return nil
}
