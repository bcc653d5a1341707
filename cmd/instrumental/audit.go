package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/audit"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var (
		filter audit.Filter
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the instrument audit log, newest first",
		Example: `  instrumental audit --limit 20
  instrumental audit --action facet.changed --module funcgenerators.tektronix`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written

			res, err := a.audit.List(ctx, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tACTION\tMODULE\tINSTRUMENT\tSOURCE\tDETAILS\n")
			for _, e := range res.Logs {
				details := ""
				if e.Details != nil {
					b, _ := json.Marshal(e.Details) //nolint:errcheck // Decoded from JSON, re-encodes
					details = string(b)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Action, e.Module, e.InstrumentID, e.Source, details)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if res.Total > res.Offset+len(res.Logs) {
				fmt.Fprintf(out, "(%d of %d entries)\n", len(res.Logs), res.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Action, "action", "", "instrument.opened, instrument.closed or facet.changed")
	cmd.Flags().StringVar(&filter.InstrumentID, "instrument", "", "instance id")
	cmd.Flags().StringVar(&filter.Module, "module", "", "exact module path")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "entries to show (max 200)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
