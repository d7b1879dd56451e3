package conn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
	frameBuffer    = 256
)

// State is the connection lifecycle state for one room.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// StateChange is emitted on every lifecycle transition. Attempt and
// NextRetryAt are populated while reconnecting.
type StateChange struct {
	RoomID      string
	State       State
	Attempt     int
	NextRetryAt time.Time
}

// Conn owns the single live push channel connection for one room. It dials,
// reads frames, and reconnects with capped exponential backoff until the
// room is closed. Frames and state changes flow out on channels; nothing is
// delivered after Close.
type Conn struct {
	id      string
	roomID  string
	dialURL string
	token   string

	dialer  *websocket.Dialer
	clock   clockwork.Clock
	backoff Backoff
	limiter *sendLimiter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	writeMu sync.Mutex

	frames chan []byte
	states chan StateChange

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(roomID, dialURL, token string, backoff Backoff, clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:      uuid.New().String(),
		roomID:  roomID,
		dialURL: dialURL,
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		clock:   clock,
		backoff: backoff,
		limiter: newSendLimiter(32, time.Second, clock),
		metrics: m,
		logger:  logger.With().Str("component", "conn").Str("roomId", roomID).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		frames:  make(chan []byte, frameBuffer),
		states:  make(chan StateChange, 32),
		done:    make(chan struct{}),
	}
	return c
}

// RoomID returns the room this connection serves.
func (c *Conn) RoomID() string { return c.roomID }

// Frames delivers raw inbound frames in receipt order. Across a reconnect
// no ordering holds between old and new frames; reducers downstream are
// idempotent for exactly that reason.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// States delivers lifecycle transitions.
func (c *Conn) States() <-chan StateChange { return c.states }

// CurrentState returns the current lifecycle state.
func (c *Conn) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the connection loop has fully exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// run is the connection loop: dial, pump, and on failure wait out the
// backoff and dial again, until the room is closed.
func (c *Conn) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected, 0, time.Time{})

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		if attempt == 0 {
			c.setState(StateConnecting, 0, time.Time{})
		}

		ws, err := c.dial()
		if err != nil {
			attempt++
			delay := c.backoff.Delay(attempt)
			retryAt := c.clock.Now().Add(delay)
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", delay).Msg("Dial failed, scheduling reconnect")
			c.metrics.IncReconnects()
			c.setState(StateReconnecting, attempt, retryAt)
			if !c.waitRetry(delay) {
				return
			}
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.metrics.IncConnections()
		c.setState(StateConnected, 0, time.Time{})
		c.logger.Info().Str("connId", c.id).Msg("Connected to push channel")

		c.pump(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.metrics.DecConnections()

		if c.ctx.Err() != nil {
			return
		}
		// Unexpected close while the room is still wanted.
		attempt = 1
		delay := c.backoff.Delay(attempt)
		retryAt := c.clock.Now().Add(delay)
		c.metrics.IncReconnects()
		c.setState(StateReconnecting, attempt, retryAt)
		c.logger.Warn().Dur("retryIn", delay).Msg("Connection lost, scheduling reconnect")
		if !c.waitRetry(delay) {
			return
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, resp, err := c.dialer.DialContext(c.ctx, c.dialURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

// waitRetry blocks for the backoff delay. It returns false when the room
// was closed first; the pending timer is stopped and drained so it cannot
// fire later.
func (c *Conn) waitRetry(delay time.Duration) bool {
	timer := c.clock.NewTimer(delay)
	select {
	case <-timer.Chan():
		return true
	case <-c.ctx.Done():
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
		return false
	}
}

// pump reads frames until the connection errors, running a ping loop
// alongside. It returns when the transport is gone.
func (c *Conn) pump(ws *websocket.Conn) {
	pingDone := make(chan struct{})
	go c.pingLoop(ws, pingDone)
	defer close(pingDone)
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		select {
		case c.frames <- message:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := c.clock.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			c.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes an advisory frame to the push channel. While not connected it
// is a logged no-op: delivery-critical writes belong on the REST API, the
// socket is a push channel first.
func (c *Conn) Send(v interface{}) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || ws == nil {
		c.logger.Debug().Str("state", string(state)).Msg("Send while not connected, dropping frame")
		return nil
	}
	if !c.limiter.Allow() {
		c.logger.Warn().Msg("Outbound frame rate limit exceeded, dropping frame")
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Msg("Advisory send failed")
		return nil
	}
	c.metrics.IncFramesSent()
	return nil
}

// Close releases the transport and cancels any pending reconnect. It is
// deterministic: after the Done channel closes, no frame, state change, or
// timer callback from this connection can be observed.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

func (c *Conn) setState(state State, attempt int, retryAt time.Time) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()
	if prev == state {
		return
	}

	c.metrics.ClearConnState(c.roomID, string(prev))
	c.metrics.SetConnState(c.roomID, string(state))

	change := StateChange{RoomID: c.roomID, State: state, Attempt: attempt, NextRetryAt: retryAt}
	select {
	case c.states <- change:
	default:
		c.logger.Debug().Str("state", string(state)).Msg("State consumer lagging, dropped transition")
	}
}

// buildDialURL appends the room id to the push channel base URL.
func buildDialURL(base, roomID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
