// Package main implements the forged CLI.
//
// Forged runs a bounded, quality-gated pipeline over each request:
// plan, implement, verify, validate, learn. The binary hosts the HTTP
// server, an MCP stdio endpoint, a Temporal worker for durable runs,
// one-shot runs, and a terminal dashboard.
//
// Configuration is loaded from an optional YAML file plus FORGED_*
// environment variables. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/forged/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the config file shared by every command. Empty means
	// environment variables only.
	configPath string

	// serverURL is the base URL client commands talk to.
	serverURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Quality-gated pipeline engine",
	Long: `Forged answers requests through a bounded refinement loop: a plan is
drafted, implemented, scored, and validated, and only drafts that clear
the quality gate are published. Approved strategies feed a pattern store
that warm-starts similar future requests.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML); FORGED_* env vars override it")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8712", "forged server URL for client commands")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forged %s\n", version)
		fmt.Printf("  commit: %s\n", gitCommit)
		fmt.Printf("  built:  %s\n", buildDate)
	},
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithFile(configPath)
	}
	return config.Load()
}
