// Package main is the entry point for the mintwatch CLI.
//
// mintwatch monitors the holder set of one SPL token on Solana,
// snapshotting it on an adaptive cadence that tightens as the token
// approaches its market-cap target.
//
// Usage:
//
//	mintwatch run -c config.yaml       # Start the long-lived monitor
//	mintwatch snapshot -c config.yaml  # Take a single snapshot and exit
//	mintwatch history -c config.yaml   # List recorded snapshots
//	mintwatch version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var (
	version = "0.1.0"
	commit  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "mintwatch",
	Short: "SPL token holder snapshot monitor",
	Long: `mintwatch watches one SPL token mint over public JSON-RPC endpoints
and periodically snapshots its holder set to CSV.

The snapshot cadence is adaptive: as the token's SOL market cap
approaches a configured target, snapshots tighten from every 15
minutes down to every minute, with extra snapshots whenever progress
crosses a threshold band. Reaching the target takes a final snapshot
and stops the run.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mintwatch %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
