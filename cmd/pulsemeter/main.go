// Pulsemeter reads SML smart meter data from WebSocket meter bridges.
//
// Each configured meter gets its own connection supervisor that reconnects
// with exponential backoff, reassembles SML frames from the message stream
// and publishes one snapshot per complete frame. Snapshots can be watched
// live in the terminal or forwarded to an MQTT broker.
//
// Usage:
//
//	pulsemeter [command] [flags]
//
// See 'pulsemeter --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/pulsemeter/internal/logging"
	"github.com/muurk/pulsemeter/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ownLogging marks commands that initialize logging themselves.
const ownLogging = "own-logging"

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pulsemeter",
	Short: "SML smart meter reader for WebSocket meter bridges",
	Long: `Read live smart meter data from meter bridges that relay the optical
SML interface over a WebSocket.

Meters are configured in a YAML file (see --config). Every meter runs its
own pipeline: connect, strip the transport prefix, reassemble SML frames,
decode the measurement list and publish a snapshot. Lost connections are
retried with exponential backoff.`,
	Version: version.Version,
	Example: `  # Find bridges on the local network and add them to the config
  pulsemeter discover --save

  # Watch all configured meters
  pulsemeter watch

  # Run headless and forward snapshots to MQTT
  pulsemeter run --log-level info

  # Try everything against a local simulator
  pulsemeter simulate --addr :8080 &
  pulsemeter watch --host localhost:8080 --password simulator`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands that read the config file pick their level from it
		if cmd.Annotations[ownLogging] != "" {
			return nil
		}
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (default: "+defaultConfigHint()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); falls back to "+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsemeter %s\n", version.Full())
	},
}
