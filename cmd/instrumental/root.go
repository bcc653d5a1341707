package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/labkit/instrumental/internal/infrastructure/config"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", config.DefaultPath(), "configuration file")
	fs.StringVar(&o.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "instrumental",
		Short:         "Discover, open and serve lab instruments",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(root.PersistentFlags())

	root.AddCommand(
		newListCmd(opts),
		newOpenCmd(opts),
		newAliasCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
		newAuditCmd(opts),
		newDBCmd(opts),
	)
	return root
}
