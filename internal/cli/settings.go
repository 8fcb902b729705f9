package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/service"
	"receiptsync/pkg/relay"

	"github.com/spf13/cobra"
)

// SettingsResult is the read receipts setting after the command ran.
type SettingsResult struct {
	ReadReceiptsEnabled bool `json:"readReceiptsEnabled"`
	Synced              bool `json:"synced"`
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the read receipts setting",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show whether read receipts are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsGet(rootOpts, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <true|false>",
		Short: "Enable or disable read receipts and sync linked devices",
		Long: `Store the read receipts setting and send a configuration sync.

The sync goes to the relay configured in --config. Without a relay URL it
is only logged.

Examples:
  receiptctl settings set true --config config.yaml
  receiptctl settings set false --db ./receiptsync.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[0])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid setting %q: use true or false", args[0]))
			}
			return runSettingsSet(rootOpts, cmd, enabled)
		},
	})

	return cmd
}

func runSettingsGet(opts *RootOptions, cmd *cobra.Command) error {
	db, _, err := opts.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	logger := opts.logger(cmd)
	settings := service.NewSettingsStore(db, relay.NewLogTransport(logger), -1, logger)
	enabled, err := settings.AreReadReceiptsEnabled(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read setting", err)
	}

	return opts.formatter(cmd).Success(SettingsResult{ReadReceiptsEnabled: enabled}, func(w io.Writer) {
		fmt.Fprintf(w, "Read receipts enabled: %t\n", enabled)
	})
}

func runSettingsSet(opts *RootOptions, cmd *cobra.Command, enabled bool) error {
	ctx := commandContext(cmd)

	db, cfg, err := opts.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	logger := opts.logger(cmd)
	transport, closeTransport, err := relay.Open(ctx, cfg.Relay, cfg.Retry, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create relay client", err)
	}

	// The sync is debounced far past the command's lifetime and sent by Close.
	dispatcher := service.NewDispatcher(db, transport, time.Hour, logger)
	setErr := dispatcher.SetReadReceiptsEnabledAndSync(ctx, enabled)
	dispatcher.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	drainErr := closeTransport(drainCtx)

	if setErr != nil {
		return WrapExitError(ExitFailure, "failed to store setting", setErr)
	}
	if drainErr != nil {
		return WrapExitError(ExitFailure, "setting stored but the configuration sync was not delivered", drainErr)
	}

	result := SettingsResult{ReadReceiptsEnabled: enabled, Synced: cfg.Relay.URL != ""}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Read receipts enabled: %t\n", enabled)
		if !result.Synced {
			fmt.Fprintln(w, "No relay configured, linked devices were not notified")
		}
	})
}
