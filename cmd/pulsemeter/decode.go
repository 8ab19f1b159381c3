package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/logging"
	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/session"
	"github.com/muurk/pulsemeter/internal/ui"
)

// Decode command flags
var (
	decodeCapture string
	decodeMeter   string
	decodePrefix  int
)

// decodeCmd replays captured or pasted bytes through the pipeline
var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode SML data from hex or a capture file",
	Long: `Run bytes through the same framer, decoder and projector a live meter
uses, and print every resulting snapshot.

Hex arguments are concatenated and treated as raw SML transport data
(no prefix unless --prefix is given). Capture files written by --capture
hold whole WebSocket messages, so the meter prefix is stripped from each.`,
	Example: `  # Decode a frame copied from a debug log
  pulsemeter decode 1b1b1b1b01010101 7605...

  # Replay a capture file
  pulsemeter decode --capture ~/.config/pulsemeter/captures/capture-20261014-120000.jsonl`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeCapture, "capture", "", "JSONL capture file to replay")
	decodeCmd.Flags().StringVar(&decodeMeter, "meter", "", "Only replay messages of this meter from the capture")
	decodeCmd.Flags().IntVar(&decodePrefix, "prefix", -1, fmt.Sprintf("Transport prefix length (default: 0 for hex, %d for captures)", config.DefaultPrefixLength))
}

// newReplay returns the pipeline a live supervisor would run, publishing
// every snapshot to onSnapshot.
func newReplay(prefix int, onSnapshot func(meter.Snapshot)) *session.Pipeline {
	publish := meter.PublisherFunc(func(_ string, snap meter.Snapshot) { onSnapshot(snap) })
	return session.NewPipeline("decode", prefix, 0, publish, logging.Named("decode"))
}

// feed logs the raw message before handing it to the pipeline.
func feed(p *session.Pipeline, data []byte, at time.Time) {
	logging.LogRawBytes("Replaying message", data)
	p.Feed(data, at)
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeCapture == "" && len(args) == 0 {
		return fmt.Errorf("pass hex data or --capture")
	}
	if decodeCapture != "" && len(args) > 0 {
		return fmt.Errorf("hex arguments and --capture are mutually exclusive")
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	snapshots := 0

	prefix := decodePrefix
	if prefix < 0 {
		prefix = 0
		if decodeCapture != "" {
			prefix = config.DefaultPrefixLength
		}
	}
	r := newReplay(prefix, func(snap meter.Snapshot) {
		snapshots++
		printer.Println(ui.HeaderTitleStyle.Render(fmt.Sprintf("Snapshot %d  %s", snapshots, snap.Timestamp.Format(time.RFC3339Nano))))
		printer.PrintSnapshot(snap)
		printer.Newline()
	})
	r.OnError = func(err error) {
		printer.Println(ui.ErrorMessageStyle.Render("  " + err.Error()))
	}

	if decodeCapture != "" {
		if err := replayCapture(r, decodeCapture, decodeMeter); err != nil {
			return err
		}
	} else {
		data, err := parseHex(args)
		if err != nil {
			return err
		}
		feed(r, data, time.Now())
	}

	stats := r.Stats()
	summary := []ui.Param{
		{Key: "Messages", Value: fmt.Sprint(stats.Messages)},
		{Key: "Frames", Value: fmt.Sprint(stats.Frames)},
		{Key: "Snapshots", Value: fmt.Sprint(stats.Snapshots)},
		{Key: "Frame errors", Value: fmt.Sprint(stats.FrameErrors)},
		{Key: "Decode errors", Value: fmt.Sprint(stats.DecodeErrors)},
	}
	if r.Buffered() > 0 {
		summary = append(summary, ui.Param{Key: "Incomplete", Value: fmt.Sprintf("%d bytes", r.Buffered())})
	}
	if snapshots == 0 {
		printer.PrintWarning("No complete frame decoded", summary...)
		return nil
	}
	printer.PrintSuccess("Decode complete", summary...)
	return nil
}

func replayCapture(r *session.Pipeline, path, only string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sessionID string
	return session.ReadCapture(f, func(rec session.CaptureRecord) error {
		if only != "" && rec.Meter != only {
			return nil
		}
		// A new session started with an empty framer.
		if rec.SessionID != sessionID {
			if sessionID != "" {
				logging.Debug("Capture session changed", zap.String("session_id", rec.SessionID))
			}
			sessionID = rec.SessionID
			r.Reset()
		}
		payload, err := rec.Payload()
		if err != nil {
			return fmt.Errorf("message %d: %w", rec.MessageNum, err)
		}
		feed(r, payload, rec.Timestamp)
		return nil
	})
}

// parseHex joins args and decodes them, ignoring whitespace, colons and
// an optional 0x prefix.
func parseHex(args []string) ([]byte, error) {
	joined := strings.Join(args, "")
	joined = strings.TrimPrefix(strings.TrimPrefix(joined, "0x"), "0X")
	joined = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, joined)
	data, err := hex.DecodeString(joined)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
