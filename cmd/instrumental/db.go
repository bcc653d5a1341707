package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/migrations"
)

func newDBCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and roll back the alias database schema",
		Long: `The db commands open the database without applying pending migrations.
Every other command migrates the schema up on start.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := load(ctx, opts, false)
				if err != nil {
					return err
				}
				defer a.Close() //nolint:errcheck // Command output already written

				applied, pending, err := a.db.MigrationStatus(ctx, migrations.FS, ".")
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "VERSION\tSTATUS\n")
				for _, m := range applied {
					fmt.Fprintf(tw, "%s\tapplied %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\tpending (%s)\n", m.Version, m.Name)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := load(ctx, opts, false)
				if err != nil {
					return err
				}
				defer a.Close() //nolint:errcheck // Command output already written

				if err := a.db.MigrateDown(ctx, migrations.FS, "."); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
				return nil
			},
		},
	)
	return cmd
}
