package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"karaoke/internal/pitch"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var a4 = pitch.NoteEvent{
	Frequency: 430.66,
	Magnitude: 212.5,
	Note:      "A4",
	Cents:     -38.9,
	Bin:       10,
	Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

type recorder struct {
	events []pitch.NoteEvent
	err    error
	closed int
}

func (r *recorder) Send(ev pitch.NoteEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Close() error {
	r.closed++
	return nil
}

func TestFanoutDeliversToAll(t *testing.T) {
	failing := &recorder{err: errors.New("peer gone")}
	ok := &recorder{}
	var viaFunc []string

	f := NewFanout(failing, nil, ok)
	f.Add(Func(func(ev pitch.NoteEvent) error {
		viaFunc = append(viaFunc, ev.Note)
		return nil
	}))
	f.Add(nil)
	require.Equal(t, 3, f.Len())

	err := f.Send(a4)
	require.Error(t, err)
	assert.ErrorContains(t, err, "peer gone")
	assert.Len(t, failing.events, 1)
	assert.Equal(t, []pitch.NoteEvent{a4}, ok.events)
	assert.Equal(t, []string{"A4"}, viaFunc)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, ok.closed)
	assert.Equal(t, 1, failing.closed)

	// Closed fanouts swallow events and ignore new transports.
	require.NoError(t, f.Send(a4))
	assert.Len(t, ok.events, 1)
	f.Add(&recorder{})
	assert.Equal(t, 3, f.Len())
}

func TestLoggingTransport(t *testing.T) {
	var buf bytes.Buffer
	lt := NewLoggingTransportTo(zerolog.New(&buf), zerolog.InfoLevel)

	require.NoError(t, lt.Send(a4))
	require.NoError(t, lt.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "A4", line["note"])
	assert.Equal(t, "note", line["message"])
	assert.InDelta(t, 430.66, line["frequency"], 1e-9)
	assert.InDelta(t, -38.9, line["cents"], 1e-9)
	assert.EqualValues(t, 10, line["bin"])
}

func TestLoggingTransportDefault(t *testing.T) {
	lt := NewLoggingTransport()
	assert.NoError(t, lt.Send(a4))
}

func dialTestServer(t *testing.T, wst *WebSocketTransport) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(wst.Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport()
	defer wst.Close()

	conn, cleanup := dialTestServer(t, wst)
	defer cleanup()

	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(a4))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got pitch.NoteEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, a4.Note, got.Note)
	assert.Equal(t, a4.Bin, got.Bin)
	assert.InDelta(t, a4.Frequency, got.Frequency, 1e-9)
	assert.True(t, a4.Timestamp.Equal(got.Timestamp))
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst := NewWebSocketTransport()
	defer wst.Close()

	conn, cleanup := dialTestServer(t, wst)
	defer cleanup()
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return wst.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketCloseDisconnectsClients(t *testing.T) {
	wst := NewWebSocketTransport()

	conn, cleanup := dialTestServer(t, wst)
	defer cleanup()
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Close())
	require.NoError(t, wst.Close())
	assert.Equal(t, 0, wst.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Sending after close is a silent no-op.
	assert.NoError(t, wst.Send(a4))
}

func TestWebSocketListenAndServe(t *testing.T) {
	wst := NewWebSocketTransport()
	defer wst.Close()

	addr, err := wst.ListenAndServe("127.0.0.1:0")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketSendDropsWhenFull(t *testing.T) {
	wst := &WebSocketTransport{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan pitch.NoteEvent, 1),
		done:      make(chan struct{}),
	}
	// No broadcast goroutine: the second event cannot be queued.
	require.NoError(t, wst.Send(a4))
	require.NoError(t, wst.Send(a4))
	assert.EqualValues(t, 1, wst.Dropped())
}
