package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/logging"
	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/mqtt"
	"github.com/muurk/pulsemeter/internal/session"
)

// Meter selection flags shared by run and watch
var (
	hostFlag     string
	passwordFlag string
	nameFlag     string
	meterFilter  []string
	capture      bool
	captureDir   string
	noMQTT       bool
)

func addMeterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&hostFlag, "host", "", "Connect to this bridge (host[:port]) instead of the configured meters")
	cmd.Flags().StringVar(&passwordFlag, "password", "", "Bridge password for --host (prompted when empty)")
	cmd.Flags().StringVar(&nameFlag, "name", "meter", "Meter name for --host")
	cmd.Flags().StringSliceVar(&meterFilter, "meter", nil, "Only run the named meters (repeatable)")
	cmd.Flags().BoolVar(&capture, "capture", false, "Record raw inbound messages to a JSONL capture file")
	cmd.Flags().StringVar(&captureDir, "capture-dir", "", "Directory for capture files (default: <config dir>/captures)")
	cmd.Flags().BoolVar(&noMQTT, "no-mqtt", false, "Do not forward snapshots even if MQTT is configured")
}

// prepareMeters loads the configuration, picks the meters to run and
// prompts for missing passwords.
func prepareMeters() (*config.File, []*config.Meter, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	meters, err := selectMeters(f, hostFlag, nameFlag, passwordFlag, meterFilter)
	if err != nil {
		return nil, nil, err
	}

	if err := promptPasswords(meters); err != nil {
		return nil, nil, err
	}
	return f, meters, nil
}

// selectMeters returns the ad-hoc meter for host when set, otherwise the
// configured meters, optionally filtered by name.
func selectMeters(f *config.File, host, name, password string, only []string) ([]*config.Meter, error) {
	if host != "" {
		m := &config.Meter{Name: name, Host: host, Password: password}
		m.ApplyDefaults()
		check := *f
		check.Meters = []*config.Meter{m}
		if err := check.Validate(); err != nil {
			return nil, err
		}
		return check.Meters, nil
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(f.Meters) == 0 {
		return nil, fmt.Errorf("no meters configured; run 'pulsemeter discover --save' or pass --host")
	}
	if len(only) == 0 {
		return f.Meters, nil
	}

	meters := make([]*config.Meter, 0, len(only))
	for _, n := range only {
		m := f.FindMeter(n)
		if m == nil {
			return nil, fmt.Errorf("meter %q is not configured", n)
		}
		meters = append(meters, m)
	}
	return meters, nil
}

func promptPasswords(meters []*config.Meter) error {
	fd := int(os.Stdin.Fd())
	for _, m := range meters {
		if m.Password != "" {
			continue
		}
		if !term.IsTerminal(fd) {
			// Not interactive; the bridge will answer 401 if it needs one.
			continue
		}
		fmt.Fprintf(os.Stderr, "Password for %s (%s): ", m.Name, m.Host)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		m.Password = string(pw)
	}
	return nil
}

// effectiveLevel picks the log level: flag, environment, config file,
// then fallback.
func effectiveLevel(f *config.File, fallback string) string {
	switch {
	case logLevel != "":
		return logLevel
	case os.Getenv(logging.LogLevelEnvVar) != "":
		return os.Getenv(logging.LogLevelEnvVar)
	case f != nil && f.LogLevel != "":
		return f.LogLevel
	default:
		return fallback
	}
}

// pipeline is the set of supervisors of one process together with the
// sinks they publish to.
type pipeline struct {
	store       *meter.Store
	supervisors []*session.Supervisor
	forwarder   *mqtt.Forwarder
	recorder    *session.Recorder
}

func newPipeline(f *config.File, meters []*config.Meter) (*pipeline, error) {
	p := &pipeline{store: meter.NewStore()}
	sinks := meter.Fanout{p.store, meter.PublisherFunc(logging.LogSnapshot)}

	if f.MQTT.Enabled() && !noMQTT {
		fwd, err := mqtt.Dial(f.MQTT, logging.Named("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		p.forwarder = fwd
		sinks = append(sinks, fwd)
	}

	if capture {
		dir := captureDir
		if dir == "" {
			var err error
			if dir, err = config.DefaultCaptureDir(); err != nil {
				p.close()
				return nil, err
			}
		}
		rec, err := session.OpenRecorder(dir)
		if err != nil {
			p.close()
			return nil, err
		}
		p.recorder = rec
		logging.Info("Capturing raw messages", zap.String("path", rec.Path()))
	}

	policy := backoffConfig(f.Backoff)
	for _, m := range meters {
		opts := []session.Option{
			session.WithLogger(logging.Named(m.Name)),
			session.WithBackoff(session.NewBackoff(policy)),
			session.WithOnState(p.onState(m.RedactedURL())),
		}
		if p.recorder != nil {
			opts = append(opts, session.WithRecorder(p.recorder))
		}
		prefix := m.Prefix()
		if prefix == 0 {
			prefix = session.NoPrefix
		}
		p.supervisors = append(p.supervisors, session.New(session.Config{
			Name:         m.Name,
			URL:          m.URL(),
			PrefixLength: prefix,
			MaxBuffer:    m.MaxBuffer,
			ReadTimeout:  m.ReadTimeout,
		}, sinks, opts...))
	}
	return p, nil
}

func (p *pipeline) onState(target string) func(session.Transition) {
	return func(t session.Transition) {
		logging.LogConnection(t.Meter, target, t.To.String())
		if t.To == session.StateBackoff {
			logging.Warn("Meter connection failed",
				zap.String("meter", t.Meter),
				zap.Int("attempt", t.Attempt),
				zap.Error(t.Err),
			)
		}
		if p.forwarder != nil && t.To != session.StateConnecting {
			p.forwarder.SetAvailability(t.Meter, t.To == session.StateConnected)
		}
	}
}

// run blocks until every supervisor has returned after ctx is cancelled.
func (p *pipeline) run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range p.supervisors {
		wg.Add(1)
		go func(s *session.Supervisor) {
			defer wg.Done()
			_ = s.Run(ctx)
		}(s)
	}
	wg.Wait()
}

func (p *pipeline) close() {
	if p.forwarder != nil {
		p.forwarder.Close()
	}
	if p.recorder != nil {
		if err := p.recorder.Close(); err != nil {
			logging.Warn("Failed to close capture file", zap.Error(err))
		}
	}
}

func backoffConfig(b *config.Backoff) session.BackoffConfig {
	if b == nil {
		return session.BackoffConfig{}
	}
	return session.BackoffConfig{
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
		Jitter:     b.Jitter,
	}
}
