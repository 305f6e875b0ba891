package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/discoveryd/internal/version"
)

type globalFlags struct {
	DataDir  string
	LogLevel string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "discoveryd",
	Short: "Registry of peer-to-peer discovery services",
	Long: `discoveryd keeps a rated list of discovery services (web caches and
bootstrap endpoints), queries them for peers and persists the list across
restarts.

Settings are read from DISCOVERY_* environment variables; flags override them.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.DataDir, "data-dir", "", "directory of the registry files (default: $DISCOVERY_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug|info|warn|error (default: $DISCOVERY_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, listCmd, seedsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
