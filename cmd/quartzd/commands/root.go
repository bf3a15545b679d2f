// Package commands implements the CLI commands for quartzd server
// management.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd runs the server when called without a subcommand. The single
// optional positional argument overrides the configured port.
var rootCmd = &cobra.Command{
	Use:   "quartzd [port]",
	Short: "Quartz - self-hosted cloud file storage server",
	Long: `Quartz is a self-hosted cloud file storage server speaking a
length-prefixed binary packet protocol over plain TCP: authenticated
sessions, chunked uploads and downloads, and per-user file and directory
trees.

Called without a subcommand, quartzd starts the server. An optional
integer argument overrides the configured port:

  quartzd            # serve on the configured port
  quartzd 9100       # serve on port 9100

Use "quartzd [command] --help" for more information about a command.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/quartz/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(newUserCommand())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quartzd %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
