package cli

import (
	"fmt"
	"io"

	"receiptsync/internal/service"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count early receipts waiting for their message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := rootOpts.openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			stats, err := db.EarlyReceiptStats(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to count early receipts", err)
			}
			return rootOpts.formatter(cmd).Success(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Early linked device receipts: %d\n", stats.LinkedDevice)
				fmt.Fprintf(w, "Early recipient receipts:     %d\n", stats.Recipient)
			})
		},
	}
}

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	RetentionDays int
}

// NewPurgeCommand creates the purge command. It runs the same cleanup as
// the server's scheduler, once.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop early receipts whose message never arrived",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.RetentionDays, "days", 0, "retention in days (default: config value or built-in default)")
	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	db, cfg, err := opts.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	days := opts.RetentionDays
	if days == 0 {
		days = cfg.Receipts.EarlyReceiptRetentionDays
	}
	if days < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--days must be positive, got %d", days))
	}

	// A zero retention falls back to the scheduler's default.
	result, err := service.NewScheduler(db, days, 0, opts.logger(cmd)).RunOnce(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to purge early receipts", err)
	}

	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Purged %d early receipts older than %d days\n", result.Purged, result.RetentionDays)
		fmt.Fprintf(w, "Still waiting: %d linked device, %d recipient\n", result.Waiting.LinkedDevice, result.Waiting.Recipient)
	})
}
