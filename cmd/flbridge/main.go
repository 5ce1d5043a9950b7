// Command flbridge is the FL Bridge Core CLI surface (SPEC_FULL.md §4.14):
// a thin cobra wrapper over the connection lifecycle for running the bridge,
// probing connectivity, and driving one-shot parameter discovery.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szichedelic/flbridge-core/internal/flbridge/config"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.FromEnvironment(config.Defaults())

	root := &cobra.Command{
		Use:           "flbridge",
		Short:         "FL Bridge Core: a request/response bridge to FL Studio over MIDI SysEx",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.FlagSet(root.PersistentFlags(), &cfg)

	root.AddCommand(newServeCmd(&cfg))
	root.AddCommand(newDiscoverCmd(&cfg))
	root.AddCommand(newDoctorCmd(&cfg))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
