package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/resolver"
	"github.com/labkit/instrumental/internal/telemetry"
)

func newOpenCmd(opts *globalOptions) *cobra.Command {
	var (
		gets, sets []string
		save       string
		policy     string
		unique     bool
	)
	cmd := &cobra.Command{
		Use:   "open REQUEST",
		Short: "Open an instrument and read or write its facets",
		Long: `Open resolves REQUEST to one instrument and opens it. REQUEST is a saved
alias name or a parameter literal such as '{"serial": "P0012345"}'.

Facets named by --set are written first, in order, then every facet named
by --get is read. Without --get all facets are printed.`,
		Example: `  instrumental open scope
  instrumental open '{"visa_address": "TCPIP0::10.0.0.9::5025::SOCKET"}' --get frequency
  instrumental open afg --set ch1_frequency="2 kHz" --set ch1_output=true
  instrumental open '{"serial": "P0012345"}' --save pm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var openOpts []resolver.OpenOption
			if policy != "" {
				p, err := resolver.ParsePolicy(policy)
				if err != nil {
					return err
				}
				openOpts = append(openOpts, resolver.WithReopenPolicy(p))
			}
			if unique {
				openOpts = append(openOpts, resolver.RequireUnique())
			}

			ctx := cmd.Context()
			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // Command output already written
			if err := a.startInstruments(ctx, true); err != nil {
				return err
			}

			inst, err := a.resolver.Open(ctx, args[0], openOpts...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "opened %s (%s)\n", inst.ParamSet(), driver.InstanceID(inst))

			for _, kv := range sets {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--set %q is not facet=value", kv)
				}
				v, ok := driver.FacetOf(inst, name)
				if !ok {
					return fmt.Errorf("%w: %s", driver.ErrUnknownFacet, name)
				}
				if err := v.Set(ctx, value); err != nil {
					return err
				}
			}

			facets := driver.FacetsOf(inst)
			if len(gets) > 0 {
				facets = facets[:0:0]
				for _, name := range gets {
					v, ok := driver.FacetOf(inst, name)
					if !ok {
						return fmt.Errorf("%w: %s", driver.ErrUnknownFacet, name)
					}
					facets = append(facets, v)
				}
			}
			for _, v := range facets {
				val, err := v.Get(ctx)
				if err != nil {
					fmt.Fprintf(out, "%s: error: %v\n", v.Name(), err)
					continue
				}
				fmt.Fprintf(out, "%s = %v\n", v.Name(), telemetry.JSONValue(val))
			}

			if save != "" {
				if err := driver.Save(ctx, inst, save); err != nil {
					return err
				}
				fmt.Fprintf(out, "saved as %q\n", save)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&gets, "get", nil, "facet to read (repeatable)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "facet=value to write (repeatable)")
	cmd.Flags().StringVar(&save, "save", "", "save the instrument's parameters under this alias")
	cmd.Flags().StringVar(&policy, "policy", "", "reopen policy: strict, reuse or new")
	cmd.Flags().BoolVar(&unique, "unique", false, "fail unless exactly one instrument matches")
	return cmd
}
