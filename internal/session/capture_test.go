package session

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/pulsemeter/internal/meter"
)

func TestRecorder_WriteAndRead(t *testing.T) {
	rec, err := OpenRecorder(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, rec.Record("house", "s1", 1, websocket.BinaryMessage, []byte{0x1b, 'A', 0x00}))
	require.NoError(t, rec.Record("house", "s1", 2, websocket.BinaryMessage, []byte("ok")))
	require.NoError(t, rec.Close())

	f, err := os.Open(rec.Path())
	require.NoError(t, err)
	defer f.Close()

	var got []CaptureRecord
	require.NoError(t, ReadCapture(f, func(r CaptureRecord) error {
		got = append(got, r)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "house", got[0].Meter)
	assert.Equal(t, 1, got[0].MessageNum)
	assert.Equal(t, "1b4100", got[0].PayloadHex)
	assert.Equal(t, ".A.", got[0].PayloadASCII)
	assert.Equal(t, 3, got[0].PayloadLen)

	payload, err := got[1].Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), payload)
}

func TestReadCapture_BadLine(t *testing.T) {
	err := ReadCapture(strings.NewReader("\n{not json}\n"), func(CaptureRecord) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture line 2")
}

func TestSupervisor_RecordsMessages(t *testing.T) {
	rec, err := OpenRecorder(t.TempDir())
	require.NoError(t, err)
	defer rec.Close()

	conn := newFakeConn(nil, withPrefix(powerFrame(t, 5000)))
	store := meter.NewStore()
	s := New(Config{Name: "m", PrefixLength: DefaultPrefixLength}, store,
		WithDialer(&scriptDialer{conns: []*fakeConn{conn}}),
		WithRecorder(rec),
	)

	cancel, done := startSupervisor(t, s)
	require.Eventually(t, func() bool { return store.Count("m") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	f, err := os.Open(rec.Path())
	require.NoError(t, err)
	defer f.Close()

	n := 0
	require.NoError(t, ReadCapture(f, func(r CaptureRecord) error {
		n++
		assert.Equal(t, "m", r.Meter)
		assert.NotEmpty(t, r.SessionID)
		return nil
	}))
	assert.Equal(t, 1, n)
}
