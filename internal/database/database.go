package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"receiptsync/internal/constants"
	apperrors "receiptsync/internal/errors"
	"receiptsync/internal/migrations"
	"receiptsync/internal/models"
	"receiptsync/internal/security"
	"receiptsync/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite backed message store, early receipt store and
// key-value store. It implements store.Runner.
type Database struct {
	db        *sql.DB
	encryptor *encryptor

	hooksMu sync.RWMutex
	hooks   []store.InsertHook
}

var _ store.Runner = (*Database)(nil)

// New opens (creating if needed) the database at cfg.Path and brings its
// schema up to date.
func New(cfg models.DatabaseConfig) (*Database, error) {
	dbPath := cfg.Path
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	busyTimeout := cfg.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = constants.DefaultDatabaseBusyTimeoutMs
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(err error, format string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf(format+": %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf(format+": %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(apperrors.NewDatabaseError("ping", err), "failed to ping database")
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		return nil, closeWith(err, "failed to initialize schema")
	}

	encryptor, err := newEncryptor(cfg.EncryptAddresses)
	if err != nil {
		return nil, closeWith(err, "failed to initialize encryptor")
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

// dsn enables WAL, foreign keys and immediate write locks so that two
// writers queue on the busy timeout instead of failing on lock upgrade.
func dsn(path string, busyTimeoutMs int) string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_txlock=immediate&_journal_mode=WAL&_foreign_keys=1", path, busyTimeoutMs)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database is still reachable, for health checks.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "database ping failed")
	}
	return nil
}

// OnMessageInserted registers a hook fired inside every InsertMessage.
func (d *Database) OnMessageInserted(hook store.InsertHook) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = append(d.hooks, hook)
}

func (d *Database) insertHooks() []store.InsertHook {
	d.hooksMu.RLock()
	defer d.hooksMu.RUnlock()
	return append([]store.InsertHook(nil), d.hooks...)
}

// WriteTx runs fn inside one transaction. Opening the transaction is retried
// while the database is locked; fn itself is never retried. Commit hooks
// registered by fn run after a successful commit.
func (d *Database) WriteTx(ctx context.Context, fn func(tx store.WriteTx) error) error {
	return d.runTx(ctx, func(tx *Tx) error { return fn(tx) })
}

func (d *Database) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	var sqlTx *sql.Tx
	err := retryableDBOperationNoReturn(ctx, func() error {
		var beginErr error
		sqlTx, beginErr = d.db.BeginTx(ctx, nil)
		return beginErr
	}, "begin transaction")
	if err != nil {
		return apperrors.NewTransactionError("begin transaction", err)
	}

	tx := &Tx{q: sqlTx, db: d}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperrors.NewTransactionError("commit transaction", err)
	}

	for _, hook := range tx.commitHooks {
		hook()
	}
	return nil
}

// ReadTx runs fn against the database outside of a write transaction.
func (d *Database) ReadTx(ctx context.Context, fn func(tx store.ReadTx) error) error {
	return fn(&Tx{q: d.db, db: d})
}

// EarlyReceiptStats counts early receipts still waiting for their message.
func (d *Database) EarlyReceiptStats(ctx context.Context) (models.EarlyReceiptStats, error) {
	var stats models.EarlyReceiptStats
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM linked_device_read_receipts`).Scan(&stats.LinkedDevice); err != nil {
		return stats, apperrors.NewDatabaseError("count linked device receipts", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT sent_timestamp) FROM recipient_read_receipts`).Scan(&stats.Recipient); err != nil {
		return stats, apperrors.NewDatabaseError("count recipient receipts", err)
	}
	return stats, nil
}

// PurgeEarlyReceiptsOlderThan drops early receipts whose message never
// arrived within retentionDays. It returns the number of rows removed.
func (d *Database) PurgeEarlyReceiptsOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	cutoff := fmt.Sprintf("-%d days", retentionDays)
	var total int64
	err := d.runTx(ctx, func(tx *Tx) error {
		for _, table := range []string{"linked_device_read_receipts", "recipient_read_receipts"} {
			// #nosec G201 - table names come from the fixed list above
			result, err := tx.q.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE created_at < datetime('now', ?)`, table), cutoff)
			if err != nil {
				return apperrors.NewDatabaseError("purge "+table, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to count purged rows: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

// ListPendingReadReceipts returns withheld sender receipts, oldest first.
// An empty threadID lists all threads.
func (d *Database) ListPendingReadReceipts(ctx context.Context, threadID string) ([]*models.PendingReadReceipt, error) {
	tx := &Tx{q: d.db, db: d}
	return tx.listPendingReadReceipts(ctx, threadID)
}

// SchemaVersion returns the applied migration version.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	return migrations.CurrentVersion(ctx, d.db)
}
