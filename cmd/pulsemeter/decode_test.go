package main

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/session"
	"github.com/muurk/pulsemeter/internal/sml"
)

func testFrame(t *testing.T, raw int64) []byte {
	t.Helper()
	scaler := int8(-1)
	unit := uint8(27)
	frame, err := sml.BuildEntriesFrame([]byte{0x0a, 0x01}, []sml.Entry{{
		Code:   sml.CodeActivePower,
		Value:  sml.Value{Type: sml.TypeInteger, Int: raw},
		Scaler: &scaler,
		Unit:   &unit,
	}})
	if err != nil {
		t.Fatalf("BuildEntriesFrame: %v", err)
	}
	return frame
}

func TestReplay_SplitFrame(t *testing.T) {
	frame := testFrame(t, 4321)
	prefix := make([]byte, 4)

	var got []meter.Snapshot
	r := newReplay(len(prefix), func(s meter.Snapshot) { got = append(got, s) })

	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	half := len(frame) / 2
	feed(r, append(append([]byte{}, prefix...), frame[:half]...), at)
	if len(got) != 0 {
		t.Fatalf("snapshot published from half a frame")
	}
	feed(r, append(append([]byte{}, prefix...), frame[half:]...), at.Add(time.Second))

	if len(got) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(got))
	}
	if !got[0].HasPower || got[0].Power != 432.1 {
		t.Errorf("power = %v (has %v), want 432.1", got[0].Power, got[0].HasPower)
	}
	if st := r.Stats(); st.Messages != 2 || st.Frames != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReplay_CorruptFrameIsSkipped(t *testing.T) {
	bad := testFrame(t, 1)
	bad[len(bad)-1] ^= 0xff
	good := testFrame(t, 2)

	var errs []error
	snapshots := 0
	r := newReplay(0, func(meter.Snapshot) { snapshots++ })
	r.OnError = func(err error) { errs = append(errs, err) }

	feed(r, append(bad, good...), time.Now())

	if snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", snapshots)
	}
	if n := r.Stats().FrameErrors; n != 1 || len(errs) != 1 {
		t.Fatalf("frame errors = %d, errors = %v", n, errs)
	}
	if !errors.Is(errs[0], sml.ErrChecksumMismatch) {
		t.Errorf("error = %v, want checksum mismatch", errs[0])
	}
}

func TestReplayCapture_ResetsBetweenSessions(t *testing.T) {
	frame := testFrame(t, 5000)
	prefix := make([]byte, config.DefaultPrefixLength)
	first := append(append([]byte{}, prefix...), frame[:10]...)
	rest := append(append([]byte{}, prefix...), frame[10:]...)
	whole := append(append([]byte{}, prefix...), frame...)

	dir := t.TempDir()
	rec, err := session.OpenRecorder(dir)
	if err != nil {
		t.Fatalf("OpenRecorder: %v", err)
	}
	// The tail of the frame arrives on a new session and must not be
	// joined with the head from the old one.
	for _, m := range []struct {
		meter, session string
		data           []byte
	}{
		{"house", "s1", first},
		{"garage", "s9", whole},
		{"house", "s2", rest},
		{"house", "s2", whole},
	} {
		if err := rec.Record(m.meter, m.session, 1, 2, m.data); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snapshots := 0
	r := newReplay(config.DefaultPrefixLength, func(meter.Snapshot) { snapshots++ })

	if err := replayCapture(r, rec.Path(), "house"); err != nil {
		t.Fatalf("replayCapture: %v", err)
	}
	if snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", snapshots)
	}
	if n := r.Stats().Messages; n != 3 {
		t.Errorf("messages = %d, want 3 (garage filtered)", n)
	}
}

func TestReplayCapture_MissingFile(t *testing.T) {
	err := replayCapture(newReplay(0, func(meter.Snapshot) {}), filepath.Join(t.TempDir(), "nope.jsonl"), "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want not exist", err)
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"plain", []string{"1b1b1b1b"}, "1b1b1b1b", false},
		{"split args", []string{"1b1b", "0101"}, "1b1b0101", false},
		{"0x and colons", []string{"0x1b:1b:01"}, "1b1b01", false},
		{"whitespace", []string{"1b 1b\n01"}, "1b1b01", false},
		{"odd length", []string{"1b1"}, "", true},
		{"not hex", []string{"zz"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHex(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && hex.EncodeToString(got) != tt.want {
				t.Errorf("parseHex() = %x, want %s", got, tt.want)
			}
		})
	}
}
