package service

import (
	"context"
	"sync"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// EarlyReceiptJanitor purges early receipts whose message never arrived.
type EarlyReceiptJanitor interface {
	PurgeEarlyReceiptsOlderThan(ctx context.Context, retentionDays int) (int64, error)
	EarlyReceiptStats(ctx context.Context) (models.EarlyReceiptStats, error)
}

// CleanupResult is the outcome of one cleanup pass.
type CleanupResult struct {
	RetentionDays int                      `json:"retentionDays"`
	Purged        int64                    `json:"purged"`
	Waiting       models.EarlyReceiptStats `json:"waiting"`
}

// Scheduler runs the early receipt cleanup at a fixed interval, starting
// with one pass immediately.
type Scheduler struct {
	janitor       EarlyReceiptJanitor
	retentionDays int
	interval      time.Duration
	logger        *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewScheduler(janitor EarlyReceiptJanitor, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultEarlyReceiptRetentionDays
	}
	return &Scheduler{
		janitor:       janitor,
		retentionDays: retentionDays,
		interval:      time.Duration(intervalHours) * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField(LogFieldComponent, "scheduler").Info("Starting early receipt cleanup scheduler")
	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce purges expired early receipts and refreshes the waiting gauges.
// A failure to read the stats after a successful purge is not an error.
func (s *Scheduler) RunOnce(ctx context.Context) (result CleanupResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "receipts.cleanup", attribute.Int("retention_days", s.retentionDays))
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	result.RetentionDays = s.retentionDays
	result.Purged, err = s.janitor.PurgeEarlyReceiptsOlderThan(ctx, s.retentionDays)
	if err != nil {
		return result, err
	}
	metrics.AddToCounter("early_receipts_purged_total", float64(result.Purged), nil, "Early receipts dropped after the retention period")

	stats, statsErr := s.janitor.EarlyReceiptStats(ctx)
	if statsErr != nil {
		s.logger.WithError(statsErr).Warn("Failed to read early receipt stats")
		return result, nil
	}
	result.Waiting = stats
	metrics.SetGauge("early_receipts_waiting", float64(stats.LinkedDevice), map[string]string{"kind": pipelineLinkedDevice}, "Early receipts waiting for their message")
	metrics.SetGauge("early_receipts_waiting", float64(stats.Recipient), map[string]string{"kind": pipelineRecipient}, "Early receipts waiting for their message")
	return result, nil
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	result, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("retention_days", s.retentionDays).Error("Failed to purge early receipts")
		return
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldCount:    result.Purged,
		"retention_days": result.RetentionDays,
	}).Info("Early receipt cleanup completed")
}
