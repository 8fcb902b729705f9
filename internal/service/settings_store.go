package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/metrics"
	"receiptsync/internal/store"

	"github.com/sirupsen/logrus"
)

// SettingsStore caches the read receipts setting for the process. The value
// is loaded from the key-value store once; afterwards reads are atomic loads.
// Writes update the cache from a commit hook, so the cache never holds a
// value that was rolled back.
type SettingsStore struct {
	runner    store.Runner
	transport Transport
	logger    *logrus.Logger
	debounce  time.Duration

	loaded  atomic.Bool
	enabled atomic.Bool
	// loadMu orders the one-time load against committed writes.
	loadMu sync.Mutex

	syncMu    sync.Mutex
	syncTimer *time.Timer
}

func NewSettingsStore(runner store.Runner, transport Transport, debounce time.Duration, logger *logrus.Logger) *SettingsStore {
	if debounce < 0 {
		debounce = time.Duration(constants.DefaultConfigSyncDebounceMs) * time.Millisecond
	}
	return &SettingsStore{
		runner:    runner,
		transport: transport,
		logger:    logger,
		debounce:  debounce,
	}
}

// PrepareCachedValues loads the setting so that later reads never touch
// storage.
func (s *SettingsStore) PrepareCachedValues(ctx context.Context) error {
	_, err := s.AreReadReceiptsEnabled(ctx)
	return err
}

// AreReadReceiptsEnabled returns the cached setting, loading it on first use.
func (s *SettingsStore) AreReadReceiptsEnabled(ctx context.Context) (bool, error) {
	if s.loaded.Load() {
		return s.enabled.Load(), nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded.Load() {
		return s.enabled.Load(), nil
	}

	var value, found bool
	err := s.runner.ReadTx(ctx, func(tx store.ReadTx) error {
		var err error
		value, found, err = tx.GetBool(ctx, constants.ReadReceiptsCollection, constants.ReadReceiptsEnabledKey)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to load read receipts setting: %w", err)
	}

	s.cache(value, found)
	return value, nil
}

// areReadReceiptsEnabledTx is AreReadReceiptsEnabled for callers already
// inside a write transaction. Loading through tx avoids waiting on a second
// connection while tx holds the write lock.
func (s *SettingsStore) areReadReceiptsEnabledTx(ctx context.Context, tx store.WriteTx) (bool, error) {
	if s.loaded.Load() {
		return s.enabled.Load(), nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded.Load() {
		return s.enabled.Load(), nil
	}

	value, found, err := tx.GetBool(ctx, constants.ReadReceiptsCollection, constants.ReadReceiptsEnabledKey)
	if err != nil {
		return false, fmt.Errorf("failed to load read receipts setting: %w", err)
	}

	s.cache(value, found)
	return value, nil
}

// cache must be called with loadMu held.
func (s *SettingsStore) cache(value, found bool) {
	if !found {
		value = constants.DefaultReadReceiptsEnabled
	}
	s.enabled.Store(value)
	s.loaded.Store(true)
}

// SetReadReceiptsEnabled persists the setting inside tx. The cache changes
// when tx commits.
func (s *SettingsStore) SetReadReceiptsEnabled(ctx context.Context, tx store.WriteTx, enabled bool) error {
	// Load the pre-write value first so an uncommitted write is never cached.
	if _, err := s.areReadReceiptsEnabledTx(ctx, tx); err != nil {
		return err
	}

	if err := tx.SetBool(ctx, constants.ReadReceiptsCollection, constants.ReadReceiptsEnabledKey, enabled); err != nil {
		return fmt.Errorf("failed to persist read receipts setting: %w", err)
	}

	tx.AddCommitHook(func() { s.refreshCommitted(enabled) })
	return nil
}

// refreshCommitted reloads the cache from storage after a committed write.
// Hooks of concurrent writers may run in a different order than their
// commits, so the cache takes whatever storage holds now rather than the
// value this writer wrote.
func (s *SettingsStore) refreshCommitted(written bool) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	ctx := context.Background()
	var value, found bool
	err := s.runner.ReadTx(ctx, func(tx store.ReadTx) error {
		var err error
		value, found, err = tx.GetBool(ctx, constants.ReadReceiptsCollection, constants.ReadReceiptsEnabledKey)
		return err
	})
	if err != nil {
		// The next read loads from storage again.
		s.loaded.Store(false)
		s.logger.WithError(err).Warn("Failed to reload read receipts setting after commit")
		return
	}

	s.cache(value, found)
	enabled := s.enabled.Load()
	metrics.SetGauge("read_receipts_enabled", boolGauge(enabled), nil, "Whether read receipts are sent to senders")
	entry := s.logger.WithField("enabled", enabled)
	if enabled != written {
		entry.WithField("written", written).Info("Read receipts setting superseded by a later write")
		return
	}
	entry.Info("Read receipts setting changed")
}

// SetReadReceiptsEnabledAndSync persists the setting in its own transaction
// and schedules a configuration sync to linked devices. Syncs requested
// within the debounce window collapse into one carrying the latest value.
func (s *SettingsStore) SetReadReceiptsEnabledAndSync(ctx context.Context, enabled bool) error {
	err := s.runner.WriteTx(ctx, func(tx store.WriteTx) error {
		return s.SetReadReceiptsEnabled(ctx, tx, enabled)
	})
	if err != nil {
		return err
	}

	s.scheduleConfigurationSync()
	return nil
}

func (s *SettingsStore) scheduleConfigurationSync() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncTimer = time.AfterFunc(s.debounce, s.sendConfigurationSync)
	s.logger.WithField(LogFieldDuration, s.debounce.Milliseconds()).Debug("Scheduled configuration sync")
}

func (s *SettingsStore) sendConfigurationSync() {
	s.syncMu.Lock()
	s.syncTimer = nil
	s.syncMu.Unlock()

	enabled, err := s.AreReadReceiptsEnabled(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Failed to read setting for configuration sync")
		return
	}
	if err := s.transport.EmitConfigurationSync(context.Background(), enabled); err != nil {
		metrics.IncrementCounter("receipt_emissions_failed_total", map[string]string{"signal": "configuration_sync"}, "Signals the transport refused")
		s.logger.WithError(err).Error("Failed to emit configuration sync")
		return
	}
	metrics.IncrementCounter("receipt_emissions_total", map[string]string{"signal": "configuration_sync"}, "Signals handed to the transport")
}

// Flush sends a pending debounced configuration sync immediately.
func (s *SettingsStore) Flush() {
	s.syncMu.Lock()
	pending := s.syncTimer != nil && s.syncTimer.Stop()
	s.syncMu.Unlock()

	if pending {
		s.sendConfigurationSync()
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
