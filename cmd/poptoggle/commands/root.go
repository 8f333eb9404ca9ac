// Package commands provides the CLI commands for poptoggle.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kelnishi/mcp-poptoggle/internal/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "poptoggle",
	Short: "poptoggle - interactive HTML surfaces over MCP",
	Long: `poptoggle exposes named interactive HTML surfaces to MCP hosts.

Hosts connect over SSE, call the popup tool to create and drive surfaces,
and browse them through the resource listing. Run 'poptoggle serve' to
start the server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Best effort; a missing .env is fine.
		_ = godotenv.Load()

		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: prettyLogs,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable console logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("poptoggle %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
