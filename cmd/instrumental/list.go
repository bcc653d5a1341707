package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/resolver"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		server, module string
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "list [key=value ...]",
		Short: "List the instruments the installed drivers can see",
		Example: `  instrumental list
  instrumental list --module powermeters
  instrumental list serial=P0012345
  instrumental list --server bench-2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(args)
			if err != nil {
				return err
			}
			ps, err := paramset.FromMap(filters)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written
			if err := a.startInstruments(ctx, false); err != nil {
				return err
			}

			found, err := a.resolver.ListInstruments(ctx, resolver.ListOptions{
				Server:  server,
				Module:  module,
				Filters: ps,
			})
			if err != nil {
				return err
			}
			return printParamSets(cmd.OutOrStdout(), found, asJSON)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "list a remote server (alias, host or host:port)")
	cmd.Flags().StringVar(&module, "module", "", "only modules whose path contains this")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printParamSets(w io.Writer, sets []paramset.ParamSet, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if sets == nil {
			sets = []paramset.ParamSet{}
		}
		return enc.Encode(sets)
	}
	if len(sets) == 0 {
		fmt.Fprintln(w, "no instruments found")
		return nil
	}
	for _, ps := range sets {
		fmt.Fprintln(w, ps.String())
	}
	return nil
}
