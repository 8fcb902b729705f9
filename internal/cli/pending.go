package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"receiptsync/internal/models"
	"receiptsync/internal/privacy"

	"github.com/spf13/cobra"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Thread string
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List read receipts held back by pending message requests",
		Long: `List sender read receipts that are withheld until a message request
is accepted. Addresses are masked unless --verbose is set.

Examples:
  receiptctl pending --db ./receiptsync.db
  receiptctl pending --db ./receiptsync.db --thread t-42 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "only list receipts of this thread")
	return cmd
}

func runPending(opts *PendingOptions, cmd *cobra.Command) error {
	db, _, err := opts.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	receipts, err := db.ListPendingReadReceipts(commandContext(cmd), opts.Thread)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list pending receipts", err)
	}
	if receipts == nil {
		receipts = []*models.PendingReadReceipt{}
	}
	if !opts.Verbose {
		for _, r := range receipts {
			r.SenderAddress = privacy.MaskAddress(r.SenderAddress)
		}
	}

	return opts.formatter(cmd).Success(receipts, func(w io.Writer) {
		if len(receipts) == 0 {
			fmt.Fprintln(w, "No pending read receipts")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "THREAD\tMESSAGE\tSENDER\tSENT\tREAD")
		for _, r := range receipts {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\n", r.ThreadID, r.MessageID, r.SenderAddress, r.MessageIDTimestamp, r.ReadTimestamp)
		}
		_ = tw.Flush()
	})
}
