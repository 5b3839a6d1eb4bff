package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-uartwire/wire"
)

// version is set at build time via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and protocol information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uwt %s (protocol v%d, block %d)\n",
			version, wire.ProtocolVersion, wire.DefaultConfig().BlockSize)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
