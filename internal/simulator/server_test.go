package simulator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/session"
	"github.com/muurk/pulsemeter/internal/sml"
)

// meterURL builds the target the way a configured meter does, userinfo
// included.
func meterURL(t *testing.T, srv *httptest.Server, pass string) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	m := config.Meter{Host: u.Host, Path: DefaultPath, Password: pass}
	return m.URL()
}

func runSupervisor(t *testing.T, target string, store *meter.Store) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sup := session.New(session.Config{
		Name:         "sim",
		URL:          target,
		PrefixLength: DefaultPrefixLength,
		ReadTimeout:  5 * time.Second,
	}, store)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestEndToEnd_PowerSnapshot(t *testing.T) {
	sim := New(Config{
		Password:     "secret",
		Interval:     20 * time.Millisecond,
		PrefixLength: DefaultPrefixLength,
	}, Constant(5000), nil)
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	store := meter.NewStore()
	cancel, done := runSupervisor(t, meterURL(t, srv, "secret"), store)

	require.Eventually(t, func() bool { return store.Count("sim") >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	snap, ok := store.Current("sim")
	require.True(t, ok)
	attrs := snap.Attributes()
	delete(attrs, meter.AttrGap)
	assert.Equal(t, map[string]interface{}{"0100100700ff": 500.0, "power": 500.0}, attrs)
	assert.True(t, snap.HasGap, "second snapshot carries a gap")
	assert.Greater(t, snap.Gap, 0.0)
}

func TestEndToEnd_ChunkedAndCorrupted(t *testing.T) {
	sim := New(Config{
		Interval:     10 * time.Millisecond,
		PrefixLength: DefaultPrefixLength,
		ChunkSize:    7,
		CorruptEvery: 2,
	}, NewHousehold(), nil)
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	store := meter.NewStore()
	runSupervisor(t, meterURL(t, srv, ""), store)

	require.Eventually(t, func() bool { return store.Count("sim") >= 3 }, 5*time.Second, 10*time.Millisecond)

	snap, _ := store.Current("sim")
	assert.True(t, snap.HasPower)
	assert.Equal(t, "W", snap.Units[sml.CodeActivePower])
	assert.Equal(t, "Wh", snap.Units[sml.CodeEnergyImport])
	assert.Equal(t, "504c53", snap.Text[sml.CodeManufacturer])
	assert.InDelta(t, 230.1, snap.Values[sml.CodeVoltageL1], 1e-9)
	assert.GreaterOrEqual(t, sim.Frames(), uint64(5), "every second frame is corrupted and skipped")
}

func TestServer_RejectsBadPassword(t *testing.T) {
	sim := New(Config{Password: "secret"}, Constant(1), nil)
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	header := http.Header{}
	(&http.Request{Header: header}).SetBasicAuth("admin", "wrong")
	plain := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	_, resp, err := websocket.DefaultDialer.Dial(plain, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dialer := session.NewWebSocketDialer()
	_, err = dialer.Dial(context.Background(), meterURL(t, srv, "wrong"))
	assert.ErrorIs(t, err, session.ErrTransport)
	assert.True(t, strings.Contains(err.Error(), "401"))

	conn, err := dialer.Dial(context.Background(), meterURL(t, srv, "secret"))
	require.NoError(t, err)
	_ = conn.Close()
}

func TestServer_Messages(t *testing.T) {
	sim := New(Config{PrefixLength: 38, ChunkSize: 10}, Constant(1), nil)
	frame := make([]byte, 25)
	for i := range frame {
		frame[i] = byte(i)
	}

	msgs := sim.messages(7, frame)
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[0], 48)
	assert.Len(t, msgs[2], 38+5)
	assert.Equal(t, []byte{0, 0, 0, 7}, msgs[0][:4], "prefix carries the sequence number")

	var joined []byte
	for _, m := range msgs {
		joined = append(joined, m[38:]...)
	}
	assert.Equal(t, frame, joined)
}

func TestServer_CorruptEvery(t *testing.T) {
	sim := New(Config{CorruptEvery: 2}, Constant(5000), nil)

	good, err := sim.nextFrame(1, time.Now())
	require.NoError(t, err)
	bad, err := sim.nextFrame(2, time.Now())
	require.NoError(t, err)

	f := sml.NewFramer(0)
	frame, err := f.Push(good)
	require.NoError(t, err)
	require.NotNil(t, frame)

	_, err = f.Push(bad)
	assert.ErrorIs(t, err, sml.ErrChecksumMismatch)
}

func TestHousehold_EnergyIncreases(t *testing.T) {
	h := NewHousehold()
	t0 := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

	first := h.Next(t0)
	second := h.Next(t0.Add(time.Hour))

	energy := func(entries []sml.Entry) int64 {
		for _, e := range entries {
			if e.Code == sml.CodeEnergyImport {
				return e.Value.Int
			}
		}
		t.Fatal("energy register missing")
		return 0
	}
	assert.Greater(t, energy(second), energy(first))

	var total, phases int64
	for _, e := range second {
		switch e.Code {
		case sml.CodeActivePower:
			total = e.Value.Int
		case sml.CodePowerL1, sml.CodePowerL2, sml.CodePowerL3:
			phases += e.Value.Int
		}
	}
	assert.Equal(t, total, phases, "phase powers add up to the total")
}
