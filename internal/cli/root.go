package cli

import (
	"context"
	"fmt"
	"slices"

	"receiptsync/internal/config"
	"receiptsync/internal/database"
	"receiptsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the receiptctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "receiptctl",
		Short: "Administer a receiptsync database",
		Long: `Inspect and maintain the receipt store used by receiptsync.

Commands open the SQLite database directly. Run them against a stopped
server, or accept that the server's cached settings are refreshed only
on its next configuration sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database (overrides the config file)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a receiptsync config file")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))

	return cmd
}

// loadConfig reads --config when given. --db always wins over the
// configured database path.
func (o *RootOptions) loadConfig() (*models.Config, error) {
	cfg := &models.Config{}
	if o.ConfigPath != "" {
		loaded, err := config.LoadConfig(o.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	if cfg.Database.Path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or --config")
	}
	return cfg, nil
}

func (o *RootOptions) openDatabase() (*database.Database, *models.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return db, cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes to stderr so that JSON output stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if o.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
