// Instrumental finds the lab instruments attached to this machine (or to a
// remote one), opens them by partial parameters or saved alias, and serves
// them to other machines.
//
//	instrumental list [--server NAME] [--module SUBSTR] [key=value ...]
//	instrumental open REQUEST [--get FACET] [--set FACET=VALUE] [--save ALIAS]
//	instrumental alias list|save|delete
//	instrumental serve
//	instrumental audit [--action A] [--instrument ID] [--limit N]
//	instrumental token --role viewer|operator
//	instrumental db status|rollback
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the command line in args. It is separate from main for
// testability.
func run(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
