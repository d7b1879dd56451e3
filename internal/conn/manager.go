package conn

import (
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
)

var ErrRoomClosed = errors.New("room connection closed")

// Manager is the registry of room-scoped connections. At most one live
// connection exists per room id; views open and close rooms explicitly, so
// connection lifecycle is owned here rather than by page-level globals.
type Manager struct {
	baseURL string
	token   string
	backoff Backoff
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewManager(baseURL, token string, backoff Backoff, clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		baseURL: baseURL,
		token:   token,
		backoff: backoff,
		clock:   clock,
		metrics: m,
		logger:  logger.With().Str("component", "conn-manager").Logger(),
		conns:   make(map[string]*Conn),
	}
}

// Open returns the live connection for a room, dialing one if none exists.
// Opening an already open room returns the existing connection.
func (m *Manager) Open(roomID string) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.conns[roomID]; ok {
		return existing, nil
	}

	dialURL, err := buildDialURL(m.baseURL, roomID)
	if err != nil {
		return nil, err
	}

	c := newConn(roomID, dialURL, m.token, m.backoff, m.clock, m.metrics, m.logger)
	m.conns[roomID] = c
	go c.run()

	m.logger.Info().Str("roomId", roomID).Int("openRooms", len(m.conns)).Msg("Room opened")
	return c, nil
}

// Get returns the connection for a room if one is open.
func (m *Manager) Get(roomID string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[roomID]
	return c, ok
}

// Close tears down a room's connection, cancelling any pending reconnect.
func (m *Manager) Close(roomID string) {
	m.mu.Lock()
	c, ok := m.conns[roomID]
	if ok {
		delete(m.conns, roomID)
	}
	m.mu.Unlock()

	if ok {
		c.Close()
		<-c.Done()
		m.logger.Info().Str("roomId", roomID).Msg("Room closed")
	}
}

// CloseAll tears down every open room.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
		<-c.Done()
	}
}

// OpenCount reports the number of open rooms.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
