package relay

import (
	"context"

	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/privacy"
	"receiptsync/internal/service"

	"github.com/sirupsen/logrus"
)

// LogTransport records signals in the log instead of sending them. It is
// used when no relay URL is configured, for local runs and dry runs.
type LogTransport struct {
	logger *logrus.Logger
}

func NewLogTransport(logger *logrus.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) EmitReadReceiptSync(ctx context.Context, entries []models.ReadReceiptSyncEntry) error {
	t.record(SignalReadReceiptSync, logrus.Fields{service.LogFieldCount: len(entries)})
	return nil
}

func (t *LogTransport) EmitReadReceipt(ctx context.Context, recipient string, messageIDTimestamp, readTimestamp uint64) error {
	t.record(SignalReadReceipt, logrus.Fields{
		service.LogFieldRecipient: privacy.MaskAddress(recipient),
		service.LogFieldTimestamp: messageIDTimestamp,
		service.LogFieldReadAt:    readTimestamp,
	})
	return nil
}

func (t *LogTransport) EmitConfigurationSync(ctx context.Context, readReceiptsEnabled bool) error {
	t.record(SignalConfigurationSync, logrus.Fields{"read_receipts_enabled": readReceiptsEnabled})
	return nil
}

func (t *LogTransport) record(signal Signal, fields logrus.Fields) {
	metrics.IncrementCounter("relay_signals_sent_total", map[string]string{
		"signal": string(signal),
	}, "Signals delivered to the relay")
	fields[service.LogFieldSignal] = signal
	t.logger.WithFields(fields).Info("Relay disabled, signal logged only")
}

// Open returns the relay client for cfg, started and ready to emit, or a
// LogTransport when no URL is configured. The returned close function drains
// queued signals.
func Open(ctx context.Context, cfg models.RelayConfig, retryCfg models.RetryConfig, logger *logrus.Logger) (service.Transport, func(context.Context) error, error) {
	if cfg.URL == "" {
		logger.Warn("No relay URL configured, signals will only be logged")
		return NewLogTransport(logger), func(context.Context) error { return nil }, nil
	}

	client, err := NewClient(cfg, retryCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	// The worker outlives ctx so that Close can drain the queue on shutdown.
	client.Start(context.WithoutCancel(ctx))
	return client, client.Close, nil
}
