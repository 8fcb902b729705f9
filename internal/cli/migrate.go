package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// MigrateResult reports the schema after migrating.
type MigrateResult struct {
	Database      string `json:"database"`
	SchemaVersion int    `json:"schemaVersion"`
}

// NewMigrateCommand creates the migrate command. Opening the database
// applies every pending migration.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Create the database if needed and apply pending schema migrations.

Examples:
  receiptctl migrate --db ./receiptsync.db
  receiptctl migrate --config config.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	db, cfg, err := opts.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	out.VerboseLog("Opened %s", cfg.Database.Path)

	version, err := db.SchemaVersion(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read schema version", err)
	}

	result := MigrateResult{Database: cfg.Database.Path, SchemaVersion: version}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Database %s is at schema version %d\n", result.Database, result.SchemaVersion)
	})
}
