package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/discovery"
	"github.com/muurk/pulsemeter/internal/logging"
	"github.com/muurk/pulsemeter/internal/ui"
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(discoverCmd)
}

func defaultConfigHint() string {
	path, err := config.GetConfigPath()
	if err != nil {
		return "<config dir>/pulsemeter/config.yaml"
	}
	return path
}

// runCmd runs all meters headless
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured meters until interrupted",
	Long: `Connect to every configured meter and publish a snapshot for each
complete SML frame. Logs go to stderr (level "info" unless configured).

When the configuration has an mqtt section, snapshots are published as JSON
to <topic_prefix>/<meter>/state and connection state to
<topic_prefix>/<meter>/availability.`,
	Example: `  # Run all meters from the default config file
  pulsemeter run

  # Run one meter and keep a capture of the raw messages
  pulsemeter run --meter house --capture

  # Ad-hoc bridge without a config file
  pulsemeter run --host 192.168.1.40 --password ABCD-1234`,
	Annotations: map[string]string{ownLogging: "true"},
	RunE:        runRun,
}

func init() {
	addMeterFlags(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	f, meters, err := prepareMeters()
	if err != nil {
		return err
	}
	if err := logging.Initialize(effectiveLevel(f, "info")); err != nil {
		return err
	}

	p, err := newPipeline(f, meters)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting meters", zap.Int("count", len(meters)))
	p.run(ctx)
	logging.Info("Shutdown signal received, all meters stopped")
	return nil
}

// Watch command flags
var watchLogFile string

// watchCmd runs the meters with a live terminal view
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show live meter readings in the terminal",
	Long: `Run the configured meters and show the latest snapshot of each in a
full-screen terminal view. Use tab to switch between meters.

Logs are written to a file so they do not disturb the view.`,
	Example: `  # Watch all configured meters
  pulsemeter watch

  # Watch the local simulator with debug logs
  pulsemeter watch --host localhost:8080 --password simulator --log-level debug`,
	Annotations: map[string]string{ownLogging: "true"},
	RunE:        runWatch,
}

func init() {
	addMeterFlags(watchCmd)
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Log file (default: <config dir>/pulsemeter.log)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Prompts must happen before the view takes over the terminal.
	f, meters, err := prepareMeters()
	if err != nil {
		return err
	}

	logPath := watchLogFile
	if logPath == "" {
		dir, err := config.GetConfigDir()
		if err != nil {
			return err
		}
		logPath = filepath.Join(dir, "pulsemeter.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := logging.InitializeTo(effectiveLevel(f, "info"), logPath); err != nil {
		return err
	}

	p, err := newPipeline(f, meters)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()

	sessions := make([]ui.Session, len(p.supervisors))
	for i, s := range p.supervisors {
		sessions[i] = s
	}

	_, err = tea.NewProgram(ui.NewWatchModel(p.store, sessions), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	<-done
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch view failed: %w", err)
	}
	return nil
}

// Discover command flags
var (
	scanTimeout time.Duration
	saveFound   bool
	bridgeID    string
)

// discoverCmd finds bridges via mDNS
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find meter bridges on the local network",
	Long: `Browse mDNS for meter bridges and list them with their addresses.

With --save, every bridge that is not yet configured is appended to the
configuration file. Passwords are not stored; they are prompted when the
meter is first run, or can be added to the file by hand.`,
	Example: `  # Scan for 10 seconds (default)
  pulsemeter discover

  # Wait for one bridge and add it to the config
  pulsemeter discover --id a1b2c3 --save`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for bridges")
	discoverCmd.Flags().BoolVar(&saveFound, "save", false, "Add new bridges to the configuration file")
	discoverCmd.Flags().StringVar(&bridgeID, "id", "", "Stop as soon as the bridge with this ID answers")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Meter Discovery", "pulsemeter discover",
		ui.Param{Key: "Service", Value: discovery.ServiceType + "." + discovery.ServiceDomain},
		ui.Param{Key: "Timeout", Value: scanTimeout.String()},
	)

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout

	var bridges []*discovery.Bridge
	if bridgeID != "" {
		bridge, err := scanner.WaitForBridge(cmd.Context(), bridgeID)
		if err != nil {
			printer.PrintError("Bridge not found", err, discoveryTips)
			return err
		}
		bridges = []*discovery.Bridge{bridge}
	} else {
		found, err := scanner.Scan(cmd.Context())
		if err != nil {
			printer.PrintError("Scan failed", err, discoveryTips)
			return err
		}
		bridges = found
	}

	if len(bridges) == 0 {
		printer.PrintError("No bridges found", nil, discoveryTips)
		return nil
	}

	for _, b := range bridges {
		details := []ui.Param{
			{Key: "Hostname", Value: b.Hostname},
			{Key: "Address", Value: b.Host()},
		}
		for k, v := range b.Metadata {
			details = append(details, ui.Param{Key: k, Value: v})
		}
		printer.PrintSuccess("Bridge "+b.ID, details...)
	}

	if !saveFound {
		printer.Println("Use --save to add these bridges to " + defaultConfigHint())
		return nil
	}
	added, path, err := saveBridges(bridges)
	if err != nil {
		return err
	}
	printer.PrintSuccess("Configuration updated",
		ui.Param{Key: "File", Value: path},
		ui.Param{Key: "Added", Value: fmt.Sprintf("%d meter(s)", added)},
	)
	return nil
}

var discoveryTips = []string{
	"Make sure this computer is on the same network as the bridge",
	"Check that multicast (UDP 5353) is not blocked",
	"Try a longer --timeout",
	"If the bridge IP is known, skip discovery and use --host",
}

// saveBridges appends unknown bridges to the config file.
func saveBridges(bridges []*discovery.Bridge) (int, string, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return 0, "", err
	}

	added := 0
	for _, b := range bridges {
		if hasHost(f, b.Host()) {
			continue
		}
		m := b.Meter("")
		if f.FindMeter(m.Name) != nil {
			m.Name = fmt.Sprintf("%s-%d", m.Name, len(f.Meters)+1)
		}
		f.Meters = append(f.Meters, m)
		added++
	}

	path := configPath
	if path == "" {
		if path, err = config.GetConfigPath(); err != nil {
			return 0, "", err
		}
	}
	if added > 0 {
		if err := config.Save(path, f); err != nil {
			return 0, "", err
		}
	}
	return added, path, nil
}

func hasHost(f *config.File, host string) bool {
	for _, m := range f.Meters {
		if m != nil && m.Host == host {
			return true
		}
	}
	return false
}
