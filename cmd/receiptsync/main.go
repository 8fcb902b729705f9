package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"receiptsync/internal/config"
	"receiptsync/internal/constants"
	"receiptsync/internal/database"
	"receiptsync/internal/errors"
	"receiptsync/internal/models"
	"receiptsync/internal/retry"
	"receiptsync/internal/service"
	"receiptsync/internal/tracing"
	"receiptsync/pkg/relay"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes participant addresses)")
	configPath = flag.String("config", "config.json", "Path to configuration file (.json, .yaml or .yml)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("receiptsync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting receiptsync")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	transport, closeTransport, err := relay.Open(ctx, cfg.Relay, cfg.Retry, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}

	dispatcher := service.NewDispatcher(db, transport, time.Duration(cfg.Receipts.ConfigSyncDebounceMs)*time.Millisecond, logger)
	if err := dispatcher.PrepareCachedValues(ctx); err != nil {
		return fmt.Errorf("failed to load read receipt settings: %w", err)
	}

	scheduler := service.NewScheduler(db, cfg.Receipts.EarlyReceiptRetentionDays, cfg.Receipts.CleanupIntervalHours, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	ingestSecret := os.Getenv(constants.IngestSecretEnv)
	if ingestSecret == "" {
		if os.Getenv(constants.EnvironmentEnv) == "production" {
			return fmt.Errorf("%s environment variable is required in production", constants.IngestSecretEnv)
		}
		logger.Warn("Ingest API is unauthenticated, set " + constants.IngestSecretEnv)
	}

	server := NewServer(cfg.Server, dispatcher, db, ingestSecret, logger)
	server.verbose = *verbose

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shutdown server gracefully")
	}

	// Bulk reads still running and a pending configuration sync must reach
	// the transport before it stops accepting signals.
	dispatcher.Close()
	if err := closeTransport(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Relay did not drain before shutdown")
	}

	logger.Info("Shutdown completed")
	return runErr
}

func configureLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - participant addresses will be logged")
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	logger.SetLevel(level)
}

// openDatabase retries while the database file is locked by another process,
// typically a previous instance that is still shutting down.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts

	backoff := retry.NewBackoff(backoffConfig).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithFields(logrus.Fields{
			service.LogFieldAttempt:  attempt,
			service.LogFieldDuration: delay.Milliseconds(),
		}).WithError(err).Warn("Failed to open database, retrying")
	})

	var db *database.Database
	err := backoff.RetryWithPredicate(ctx, func(context.Context) error {
		var openErr error
		db, openErr = database.New(cfg.Database)
		return openErr
	}, func(error) bool { return true })
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseConnection, "failed to initialize database after retries")
	}
	return db, nil
}
