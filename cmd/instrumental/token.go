package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/auth"
	"github.com/labkit/instrumental/internal/infrastructure/config"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		subject, role string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Example: `  instrumental token --subject dashboard --role viewer
  instrumental token --subject ci --role operator --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.API.TokenSecret == "" {
				return errors.New("api.token_secret is not set; the API accepts unauthenticated requests")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(subject, r, cfg.API.TokenSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "instrumental", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
