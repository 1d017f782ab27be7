package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "keepalive: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Persistent TCP link with heartbeats and automatic reconnection",
		Long: `keepalive runs either end of a length-prefixed binary protocol over TCP.

The server answers heartbeats with "pong" and business requests with "ok".
The client holds one connection open, sends a heartbeat whenever the link
has been idle for the heartbeat interval, reconnects at a fixed delay when
the link drops, and exposes /send, /status and /metrics over HTTP.

Examples:
  keepalive server --config keepalive.toml
  keepalive client --host 10.0.0.5 --port 8088
  curl 'localhost:8080/send?content=hello'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	rootCmd.AddCommand(
		serverCmd(&configPath),
		clientCmd(&configPath),
		versionCmd(),
	)
	return rootCmd
}
