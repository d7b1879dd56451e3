package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/config"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/conn"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/dedupe"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/dispatch"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/presence"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/timer"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

// Engine is the registry of room sessions. Rooms are opened and closed
// explicitly by the consuming view; only the size-capped deduper and the
// presence registry are shared across rooms.
type Engine struct {
	cfg      *config.Config
	connMgr  *conn.Manager
	dispatch *dispatch.Dispatcher
	presence *presence.Tracker
	deduper  *dedupe.Deduper
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pumps    map[string]context.CancelFunc
}

// NewEngine builds an engine from config. Pass a nil store to use the
// in-process dedup store; pass a redis-backed store to share the dedup
// window across processes.
func NewEngine(cfg *config.Config, store dedupe.Store, clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if store == nil {
		store = dedupe.NewMemoryStore(cfg.Dedup.Cap)
	}
	backoff := conn.Backoff{Base: cfg.Backoff.Base, Cap: cfg.Backoff.Cap}
	return &Engine{
		cfg:      cfg,
		connMgr:  conn.NewManager(cfg.Push.URL, cfg.Push.AuthToken, backoff, clock, m, logger),
		dispatch: dispatch.New(clock, m, logger),
		presence: presence.NewTracker(logger),
		deduper:  dedupe.New(store, cfg.Dedup.Window, logger),
		metrics:  m,
		clock:    clock,
		logger:   logger.With().Str("component", "engine").Logger(),
		sessions: make(map[string]*Session),
		pumps:    make(map[string]context.CancelFunc),
	}
}

// OpenContest opens (or returns) the session mirroring a contest room.
func (e *Engine) OpenContest(contestID string) (*Session, error) {
	roomID := events.BuildRoomID(events.RoomClassContest, contestID)
	return e.open(roomID, events.RoomClassContest, contestID, "", "")
}

// OpenThread opens (or returns) the session mirroring a chat thread. The
// peer is subscribed for presence until the room closes.
func (e *Engine) OpenThread(threadID, selfUserID, peerUserID string) (*Session, error) {
	roomID := events.BuildRoomID(events.RoomClassThread, threadID)
	return e.open(roomID, events.RoomClassThread, threadID, selfUserID, peerUserID)
}

func (e *Engine) open(roomID string, class events.RoomClass, entityID, selfUserID, peerUserID string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.sessions[roomID]; ok {
		return existing, nil
	}

	c, err := e.connMgr.Open(roomID)
	if err != nil {
		return nil, err
	}

	params := Params{
		RoomID:     roomID,
		Class:      class,
		EntityID:   entityID,
		SelfUserID: selfUserID,
		Conn:       c,
		Presence:   e.presence,
		Deduper:    e.deduper,
		Metrics:    e.metrics,
		Clock:      e.clock,
		Logger:     e.logger,
	}
	if class == events.RoomClassContest {
		params.Timer = timer.New(entityID, e.clock, e.logger)
	}

	session := NewSession(params)
	e.sessions[roomID] = session
	e.dispatch.Register(roomID, class, session)
	if class == events.RoomClassThread && peerUserID != "" {
		e.presence.Subscribe(entityID, peerUserID)
	}

	session.Start()

	pumpCtx, cancel := context.WithCancel(context.Background())
	e.pumps[roomID] = cancel
	go e.dispatch.Run(pumpCtx, c)

	e.logger.Info().Str("roomId", roomID).Msg("Session opened")
	return session, nil
}

// AttachSource pumps an additional frame source (e.g. Kafka) into the
// dispatcher until ctx is done. Events route to sessions by room id just
// like push channel frames.
func (e *Engine) AttachSource(ctx context.Context, src dispatch.Source) {
	go e.dispatch.Run(ctx, src)
}

// Close tears down a room: connection, pending reconnects, timer,
// presence subscription, and routing. Deterministic; no callback for the
// room fires afterwards.
func (e *Engine) Close(roomID string) {
	e.mu.Lock()
	session, ok := e.sessions[roomID]
	if ok {
		delete(e.sessions, roomID)
	}
	cancelPump, hasPump := e.pumps[roomID]
	if hasPump {
		delete(e.pumps, roomID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if hasPump {
		cancelPump()
	}
	e.dispatch.Unregister(roomID)
	e.connMgr.Close(roomID)
	session.Close()
	<-session.Done()

	if class, entityID := events.SplitRoomID(roomID); class == events.RoomClassThread {
		e.presence.Unsubscribe(entityID)
	}

	e.logger.Info().Str("roomId", roomID).Msg("Session closed")
}

// CloseAll tears down every open room.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	roomIDs := make([]string, 0, len(e.sessions))
	for roomID := range e.sessions {
		roomIDs = append(roomIDs, roomID)
	}
	e.mu.Unlock()

	for _, roomID := range roomIDs {
		e.Close(roomID)
	}
}

// Session returns the open session for a room id.
func (e *Engine) Session(roomID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[roomID]
	return session, ok
}

// LastUpdate reports when a room last received a decodable event.
func (e *Engine) LastUpdate(roomID string) time.Time {
	return e.dispatch.LastUpdate(roomID)
}

// Presence exposes the shared presence tracker.
func (e *Engine) Presence() *presence.Tracker { return e.presence }
