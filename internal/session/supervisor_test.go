package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/sml"
)

var testPrefix = bytes.Repeat([]byte{0xaa}, DefaultPrefixLength)

func i8(v int8) *int8    { return &v }
func u8(v uint8) *uint8 { return &v }

// powerFrame builds a framed SML file carrying one active power entry.
func powerFrame(t *testing.T, raw int64) []byte {
	t.Helper()
	frame, err := sml.BuildEntriesFrame([]byte{0x0a, 0x01, 0x49, 0x53, 0x4b}, []sml.Entry{{
		Code:   sml.CodeActivePower,
		Value:  sml.Value{Type: sml.TypeInteger, Int: raw},
		Scaler: i8(-1),
		Unit:   u8(27),
	}})
	require.NoError(t, err)
	return frame
}

func withPrefix(b []byte) []byte {
	return append(append([]byte{}, testPrefix...), b...)
}

// fakeConn delivers its messages in order, then returns err, or blocks
// until closed when err is nil.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	err      error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(err error, messages ...[]byte) *fakeConn {
	return &fakeConn{messages: messages, err: err, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return websocket.BinaryMessage, msg, nil
	}
	err := c.err
	c.mu.Unlock()

	if err != nil {
		return 0, nil, err
	}
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// scriptDialer hands out its connections in order. Once they run out every
// dial fails.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *scriptDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *scriptDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type countingPolicy struct {
	backoff.BackOff
	resets int
}

func (p *countingPolicy) Reset() {
	p.resets++
	p.BackOff.Reset()
}

type transitions struct {
	mu  sync.Mutex
	got []Transition
}

func (tr *transitions) record(t Transition) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, t)
}

func (tr *transitions) states() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]State, len(tr.got))
	for i, t := range tr.got {
		out[i] = t.To
	}
	return out
}

func startSupervisor(t *testing.T, s *Supervisor) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- s.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
		return nil
	}
}

func TestSupervisor_ReconnectDiscardsBufferedBytes(t *testing.T) {
	first := powerFrame(t, 5000)
	second := powerFrame(t, 6000)
	half := len(first) / 2

	conn1 := newFakeConn(io.ErrUnexpectedEOF, withPrefix(first[:half]))
	// If the framer kept conn1's bytes, the tail below would complete a frame.
	conn2 := newFakeConn(nil, withPrefix(first[half:]), withPrefix(second))
	dialer := &scriptDialer{conns: []*fakeConn{conn1, conn2}}

	var delays []time.Duration
	var delaysMu sync.Mutex
	after := func(d time.Duration) <-chan time.Time {
		delaysMu.Lock()
		delays = append(delays, d)
		delaysMu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	var tr transitions
	store := meter.NewStore()
	s := New(Config{Name: "house", URL: "ws://meter/ws", PrefixLength: DefaultPrefixLength}, store,
		WithDialer(dialer),
		WithBackoff(backoff.NewConstantBackOff(5*time.Second)),
		WithOnState(tr.record),
	)
	s.after = after

	cancel, done := startSupervisor(t, s)

	require.Eventually(t, func() bool { return store.Count("house") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)

	snap, ok := store.Current("house")
	require.True(t, ok)
	assert.Equal(t, 600.0, snap.Power)
	assert.Equal(t, uint64(1), store.Count("house"), "pre-failure bytes must not produce a frame")

	assert.Equal(t, 2, dialer.count(), "exactly one reconnect")
	delaysMu.Lock()
	assert.Equal(t, []time.Duration{5 * time.Second}, delays)
	delaysMu.Unlock()

	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateBackoff,
		StateConnecting, StateConnected, StateDisconnected,
	}, tr.states())
	assert.True(t, conn1.isClosed())
	assert.True(t, conn2.isClosed())

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Connects)
	assert.Equal(t, uint64(1), stats.TransportErrors)
	assert.Equal(t, uint64(1), stats.Snapshots)
}

func TestSupervisor_StageErrorsDoNotStopSession(t *testing.T) {
	good := powerFrame(t, 5000)

	badCRC := append([]byte{}, good...)
	badCRC[len(badCRC)-1] ^= 0xff

	undecodable := sml.BuildFrame([]byte{0x72, 0x01})

	conn := newFakeConn(nil,
		[]byte{0x01, 0x02}, // shorter than the prefix
		withPrefix(badCRC),
		withPrefix(undecodable),
		withPrefix(append(append([]byte{}, badCRC...), good...)),
	)
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	store := meter.NewStore()

	s := New(Config{Name: "m", PrefixLength: DefaultPrefixLength}, store, WithDialer(dialer))
	cancel, done := startSupervisor(t, s)

	require.Eventually(t, func() bool { return store.Count("m") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.Messages)
	assert.Equal(t, uint64(2), stats.FrameErrors)
	assert.Equal(t, uint64(1), stats.DecodeErrors)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(0), stats.TransportErrors)
	assert.Equal(t, 1, dialer.count(), "stage errors must not reconnect")

	snap, _ := store.Current("m")
	assert.Equal(t, map[string]interface{}{sml.CodeActivePower: 500.0, meter.AttrPower: 500.0}, snap.Attributes())
}

func TestSupervisor_PrefixLength(t *testing.T) {
	tests := []struct {
		name    string
		prefix  int
		message []byte
	}{
		{name: "zero selects default", prefix: 0, message: withPrefix(powerFrame(t, 5000))},
		{name: "explicit default", prefix: DefaultPrefixLength, message: withPrefix(powerFrame(t, 5000))},
		{name: "no prefix", prefix: NoPrefix, message: powerFrame(t, 5000)},
		{name: "short prefix", prefix: 4, message: append([]byte{1, 2, 3, 4}, powerFrame(t, 5000)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(nil, tt.message)
			store := meter.NewStore()
			s := New(Config{Name: "m", PrefixLength: tt.prefix}, store,
				WithDialer(&scriptDialer{conns: []*fakeConn{conn}}))

			cancel, done := startSupervisor(t, s)
			require.Eventually(t, func() bool { return store.Count("m") == 1 }, 2*time.Second, 5*time.Millisecond)
			cancel()
			waitDone(t, done)

			snap, _ := store.Current("m")
			assert.Equal(t, 500.0, snap.Power)
			assert.Equal(t, uint64(0), s.Stats().FrameErrors)
		})
	}
}

func TestPipeline_SharedAccounting(t *testing.T) {
	var got []meter.Snapshot
	var errs []error
	p := NewPipeline("m", 2, 0, meter.PublisherFunc(func(id string, snap meter.Snapshot) {
		assert.Equal(t, "m", id)
		got = append(got, snap)
	}), nil)
	p.OnError = func(err error) { errs = append(errs, err) }

	frame := powerFrame(t, 5000)
	bad := append([]byte{}, frame...)
	bad[len(bad)-1] ^= 0xff
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, p.Feed(append([]byte{0, 0}, frame[:9]...), at))
	assert.Greater(t, p.Buffered(), 0)
	p.Reset()
	assert.Equal(t, 0, p.Buffered())

	assert.Equal(t, 1, p.Feed(append(append([]byte{0, 0}, bad...), frame...), at))
	assert.Equal(t, 1, p.Feed(append([]byte{0, 0}, frame...), at.Add(time.Second)))
	assert.Equal(t, 0, p.Feed([]byte{0}, at), "shorter than the prefix")

	require.Len(t, got, 2)
	assert.True(t, got[1].HasGap)
	assert.InDelta(t, 1.0, got[1].Gap, 1e-9)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], sml.ErrChecksumMismatch)

	assert.Equal(t, Stats{Messages: 4, Frames: 2, Snapshots: 2, FrameErrors: 1}, p.Stats())
}

func TestSupervisor_CancelDuringBackoff(t *testing.T) {
	dialer := &scriptDialer{}
	s := New(Config{Name: "m"}, meter.NewStore(), WithDialer(dialer))
	s.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	cancel, done := startSupervisor(t, s)
	require.Eventually(t, func() bool { return s.State() == StateBackoff }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_CancelDuringRead(t *testing.T) {
	conn := newFakeConn(nil)
	s := New(Config{Name: "m"}, meter.NewStore(), WithDialer(&scriptDialer{conns: []*fakeConn{conn}}))

	cancel, done := startSupervisor(t, s)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
	assert.True(t, conn.isClosed(), "connection must be released on cancellation")
}

func TestSupervisor_PolicyResetsAfterValidFrame(t *testing.T) {
	conns := []*fakeConn{
		newFakeConn(io.ErrUnexpectedEOF, withPrefix(powerFrame(t, 1))),
		newFakeConn(io.ErrUnexpectedEOF, []byte("no frames here")),
	}
	dialer := &scriptDialer{conns: conns}
	policy := &countingPolicy{BackOff: backoff.NewConstantBackOff(time.Millisecond)}

	var tr transitions
	s := New(Config{Name: "m", PrefixLength: DefaultPrefixLength}, meter.NewStore(),
		WithDialer(dialer), WithBackoff(policy), WithOnState(tr.record))
	s.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	cancel, done := startSupervisor(t, s)
	require.Eventually(t, func() bool { return dialer.count() >= 4 }, 2*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, 1, policy.resets, "only the session with a valid frame resets the policy")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	var attempts []int
	for _, tt := range tr.got {
		if tt.To == StateBackoff {
			attempts = append(attempts, tt.Attempt)
			assert.ErrorIs(t, tt.Err, ErrTransport)
		}
	}
	require.GreaterOrEqual(t, len(attempts), 3)
	assert.Equal(t, []int{1, 2, 3}, attempts[:3])
}

func TestSupervisor_DialErrorsAreTransportErrors(t *testing.T) {
	var tr transitions
	s := New(Config{Name: "m"}, meter.NewStore(), WithDialer(&scriptDialer{}), WithOnState(tr.record))
	s.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	cancel, done := startSupervisor(t, s)
	require.Eventually(t, func() bool { return s.State() == StateBackoff }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.GreaterOrEqual(t, len(tr.got), 2)
	assert.ErrorIs(t, tr.got[1].Err, ErrTransport)
}

func TestNewBackoff(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 400 * time.Millisecond, Jitter: 0.1})
	for i := 0; i < 20; i++ {
		d := nextDelay(b)
		assert.LessOrEqual(t, d, 440*time.Millisecond)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
	}

	exp, ok := NewBackoff(BackoffConfig{}).(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultInitialBackoff, exp.InitialInterval)
	assert.Equal(t, DefaultMaxBackoff, exp.MaxInterval)
	assert.Equal(t, DefaultJitter, exp.RandomizationFactor)
	assert.Equal(t, time.Duration(0), exp.MaxElapsedTime)
}

func TestNextDelay_NeverStops(t *testing.T) {
	assert.Equal(t, DefaultMaxBackoff, nextDelay(&backoff.StopBackOff{}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "state(9)", State(9).String())
}
