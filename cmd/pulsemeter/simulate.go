package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/pulsemeter/internal/logging"
	"github.com/muurk/pulsemeter/internal/simulator"
)

// Simulate command flags
var (
	simAddr         string
	simPath         string
	simPassword     string
	simInterval     time.Duration
	simPrefix       int
	simChunk        int
	simCorruptEvery int
	simConstant     int64
)

// simulateCmd serves a fake bridge
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated meter bridge",
	Long: `Start a WebSocket server that behaves like a meter bridge: every
interval it sends one SML frame, each message carrying the transport
prefix in front of the SML bytes.

By default the frames describe a three-phase household with a daily load
curve. Use --chunk and --corrupt-every to exercise reassembly and checksum
handling.`,
	Example: `  # Household simulator on port 8080, password "simulator"
  pulsemeter simulate --addr :8080 --password simulator

  # Constant 500.0 W, frames split across 16-byte messages
  pulsemeter simulate --constant 5000 --chunk 16`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simAddr, "addr", ":8080", "Listen address")
	simulateCmd.Flags().StringVar(&simPath, "path", simulator.DefaultPath, "WebSocket path")
	simulateCmd.Flags().StringVar(&simPassword, "password", "", "Require this basic auth password (user admin)")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", simulator.DefaultInterval, "Time between frames")
	simulateCmd.Flags().IntVar(&simPrefix, "prefix", simulator.DefaultPrefixLength, "Transport prefix length")
	simulateCmd.Flags().IntVar(&simChunk, "chunk", 0, "Split frames into messages of at most this many SML bytes")
	simulateCmd.Flags().IntVar(&simCorruptEvery, "corrupt-every", 0, "Corrupt the checksum of every n-th frame")
	simulateCmd.Flags().Int64Var(&simConstant, "constant", 0, "Report a constant raw active power (scaler -1) instead of the household curve")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var source simulator.Source = simulator.NewHousehold()
	if simConstant != 0 {
		source = simulator.Constant(simConstant)
	}

	sim := simulator.New(simulator.Config{
		Path:         simPath,
		Password:     simPassword,
		Interval:     simInterval,
		PrefixLength: simPrefix,
		ChunkSize:    simChunk,
		CorruptEvery: simCorruptEvery,
	}, source, logging.Named("simulator"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Simulating a meter bridge at ws://%s%s (Ctrl+C to stop)\n", simAddr, simPath)
	if err := sim.ListenAndServe(ctx, simAddr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
