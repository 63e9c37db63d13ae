package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/forged/internal/monitor"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard for a running server",
	Long: `Watch run outcomes, success rate, and latency of a running forged
server in the terminal.

Examples:
  # Watch the local server
  forged monitor

  # Watch a remote server, refreshing every 10 seconds
  forged monitor --server http://forged.internal:8712 --interval 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return monitor.Run(serverURL, monitorInterval)
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 5*time.Second, "stats refresh interval")
}
