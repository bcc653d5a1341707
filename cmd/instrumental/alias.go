package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/paramset"
)

func newAliasCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage saved instrument aliases",
	}
	cmd.AddCommand(newAliasListCmd(opts), newAliasSaveCmd(opts), newAliasDeleteCmd(opts))
	return cmd
}

func newAliasListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List aliases from the config file and the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written

			aliases, err := a.aliases.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, al := range aliases {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", al.Name, al.Source, al.Params)
			}
			return tw.Flush()
		},
	}
}

func newAliasSaveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "save NAME PARAMS",
		Short:   "Save a parameter literal under an alias",
		Example: `  instrumental alias save pm '{"module": "powermeters.thorlabs", "serial": "P0012345"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := paramset.Parse(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written

			if err := a.aliases.Save(ctx, args[0], ps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s = %s\n", args[0], ps)
			return nil
		},
	}
}

func newAliasDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written

			if err := a.aliases.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
