package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/journal"
)

func newJournalCommand(root *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List deliveries recorded in the journal",
		Long:  "Scan the journal directory and print every delivery that would be resumed on the next start. With --all, completed and corrupt deliveries are listed too.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := zap.NewNop()
			if root.debug {
				log = newLogger(true)
			}

			records, err := journal.NewReader(root.journalDir, log).Scan()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tTXID\tLAST ENTRY\tREMAINING WH\tSTATUS")
			for _, r := range records {
				if !all && !r.Outstanding() {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%+.2f\t%s\n",
					r.Address, r.TxID, lastEntry(r.Time), r.RemainingWattHours, recordStatus(r))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed deliveries")
	return cmd
}

func lastEntry(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func recordStatus(r journal.Record) string {
	switch {
	case r.Corrupt:
		return "corrupt"
	case r.Outstanding():
		return "outstanding"
	default:
		return "complete"
	}
}
