package conn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// pushServer fakes the realtime push endpoint: it upgrades each dial and
// hands the socket plus the requested room to the handler.
func pushServer(t *testing.T, handler func(ws *websocket.Conn, room string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws, r.URL.Query().Get("room"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	m := NewManager(
		baseURL,
		"test-token",
		Backoff{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond},
		clockwork.NewRealClock(),
		metrics.New(prometheus.NewRegistry()),
		zerolog.Nop(),
	)
	t.Cleanup(m.CloseAll)
	return m
}

func waitFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case frame := <-c.Frames():
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func waitState(t *testing.T, c *Conn, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-c.States():
			if change.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestOpenDeliversFrames(t *testing.T) {
	srv := pushServer(t, func(ws *websocket.Conn, room string) {
		defer ws.Close()
		assert.Equal(t, "contest:c-1", room)
		assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"contest_started"}`)))
		ws.ReadMessage() // hold open until the client hangs up
	})

	m := newTestManager(t, wsURL(srv))
	c, err := m.Open("contest:c-1")
	require.NoError(t, err)

	waitState(t, c, StateConnected)
	assert.JSONEq(t, `{"type":"contest_started"}`, string(waitFrame(t, c)))
}

func TestOpenIsIdempotent(t *testing.T) {
	srv := pushServer(t, func(ws *websocket.Conn, _ string) {
		defer ws.Close()
		ws.ReadMessage()
	})

	m := newTestManager(t, wsURL(srv))
	first, err := m.Open("contest:c-1")
	require.NoError(t, err)
	second, err := m.Open("contest:c-1")
	require.NoError(t, err)

	assert.Same(t, first, second, "reopening a room must reuse the live connection")
	assert.Equal(t, 1, m.OpenCount())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var dials atomic.Int32
	srv := pushServer(t, func(ws *websocket.Conn, _ string) {
		defer ws.Close()
		n := dials.Add(1)
		if n == 1 {
			ws.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
			return // drop the first connection
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"n":2}`))
		ws.ReadMessage()
	})

	m := newTestManager(t, wsURL(srv))
	c, err := m.Open("contest:c-1")
	require.NoError(t, err)

	assert.JSONEq(t, `{"n":1}`, string(waitFrame(t, c)))
	waitState(t, c, StateReconnecting)
	waitState(t, c, StateConnected)
	assert.JSONEq(t, `{"n":2}`, string(waitFrame(t, c)))
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}

func TestCloseIsDeterministic(t *testing.T) {
	srv := pushServer(t, func(ws *websocket.Conn, _ string) {
		defer ws.Close()
		ws.ReadMessage()
	})

	m := newTestManager(t, wsURL(srv))
	c, err := m.Open("contest:c-1")
	require.NoError(t, err)
	waitState(t, c, StateConnected)

	m.Close("contest:c-1")

	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed once Close returns")
	}
	assert.Equal(t, StateDisconnected, c.CurrentState())
	assert.Zero(t, m.OpenCount())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	// Nothing is listening here, so every dial fails and the connection
	// sits in backoff.
	m := newTestManager(t, "ws://127.0.0.1:1")
	c, err := m.Open("contest:c-1")
	require.NoError(t, err)
	waitState(t, c, StateReconnecting)

	done := make(chan struct{})
	go func() {
		m.Close("contest:c-1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending reconnect timer")
	}
}

func TestSendWhileDisconnectedIsNoOp(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1")
	c, err := m.Open("contest:c-1")
	require.NoError(t, err)

	assert.NoError(t, c.Send(map[string]string{"type": "typing"}),
		"advisory sends drop silently while offline")
}

func TestSendReachesServer(t *testing.T) {
	received := make(chan []byte, 1)
	srv := pushServer(t, func(ws *websocket.Conn, _ string) {
		defer ws.Close()
		_, msg, err := ws.ReadMessage()
		if err == nil {
			received <- msg
		}
	})

	m := newTestManager(t, wsURL(srv))
	c, err := m.Open("thread:t-1")
	require.NoError(t, err)
	waitState(t, c, StateConnected)

	require.NoError(t, c.Send(map[string]string{"type": "typing"}))
	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"typing"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestBuildDialURL(t *testing.T) {
	u, err := buildDialURL("ws://localhost:6001/v1/ws", "contest:c-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:6001/v1/ws?room=contest%3Ac-1", u)
}
