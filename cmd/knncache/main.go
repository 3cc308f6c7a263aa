// Command knncache runs and inspects a k-NN graph cache node.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "knncache",
		Short:         "Keep native k-NN graphs resident and guard the node's memory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newWarmCmd(),
		newQueryCmd(),
		newBuildCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		showError(err)
		os.Exit(1)
	}
}
