package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/chat"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/conn"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/contest"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/dedupe"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/presence"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/timer"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

// Notification is a deduplicated, consumer-facing notification.
type Notification struct {
	RoomID   string
	Kind     string
	SourceID string
	Text     string
	At       time.Time
}

// Params wires one session. Conn may be nil for sources other than the
// push channel (Kafka, tests); events then arrive via HandleEvent.
type Params struct {
	RoomID     string
	Class      events.RoomClass
	EntityID   string
	SelfUserID string

	Conn     *conn.Conn
	Timer    *timer.Reconciler
	Presence *presence.Tracker
	Deduper  *dedupe.Deduper
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

// Session owns the state of one room. Every mutation funnels through a
// single goroutine: inbound events, timer ticks, and timer alerts are
// merged in one select loop, so no two reducer invocations ever overlap.
type Session struct {
	roomID   string
	class    events.RoomClass
	entityID string

	conn     *conn.Conn
	timer    *timer.Reconciler
	presence *presence.Tracker
	deduper  *dedupe.Deduper
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	logger   zerolog.Logger

	contestReducer contest.Reducer
	chatReducer    chat.Reducer

	mu           sync.RWMutex
	contestState contest.State
	chatState    chat.State

	eventCh       chan *events.Envelope
	notifications chan Notification

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(p Params) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:   p.RoomID,
		class:    p.Class,
		entityID: p.EntityID,
		conn:     p.Conn,
		timer:    p.Timer,
		presence: p.Presence,
		deduper:  p.Deduper,
		metrics:  p.Metrics,
		clock:    p.Clock,
		logger:   p.Logger.With().Str("component", "session").Str("roomId", p.RoomID).Logger(),

		eventCh:       make(chan *events.Envelope, 64),
		notifications: make(chan Notification, 32),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	if p.Deduper != nil {
		s.contestReducer = contest.Reducer{NotifWindow: p.Deduper.Window()}
	}
	switch p.Class {
	case events.RoomClassContest:
		s.contestState = contest.NewState(p.EntityID)
	case events.RoomClassThread:
		s.chatState = chat.NewState(p.EntityID, p.SelfUserID)
	}
	return s
}

// Start launches the session loop. The timer reconciler, when present, is
// started on the session's lifetime.
func (s *Session) Start() {
	if s.timer != nil {
		s.timer.Start(s.ctx)
	}
	go s.run()
}

// HandleEvent implements the dispatcher's Sink. It hands the event to the
// session goroutine; after Close the event is silently discarded.
func (s *Session) HandleEvent(env *events.Envelope) {
	select {
	case s.eventCh <- env:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer close(s.done)

	var ticks <-chan int
	var alerts <-chan timer.Alert
	if s.timer != nil {
		ticks = s.timer.Ticks()
		alerts = s.timer.Alerts()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.eventCh:
			s.apply(env)
		case remaining := <-ticks:
			s.applyTick(remaining)
		case alert := <-alerts:
			s.applyAlert(alert)
		}
	}
}

func (s *Session) apply(env *events.Envelope) {
	switch s.class {
	case events.RoomClassContest:
		s.mu.RLock()
		state := s.contestState
		s.mu.RUnlock()
		next, effects := s.contestReducer.Reduce(state, env)
		s.mu.Lock()
		s.contestState = next
		s.mu.Unlock()
		for _, effect := range effects {
			s.runContestEffect(effect)
		}
	case events.RoomClassThread:
		s.mu.RLock()
		state := s.chatState
		s.mu.RUnlock()
		next, effects := s.chatReducer.Reduce(state, env)
		s.mu.Lock()
		s.chatState = next
		s.mu.Unlock()
		for _, effect := range effects {
			s.runChatEffect(effect)
		}
	}
}

func (s *Session) runContestEffect(effect contest.Effect) {
	switch e := effect.(type) {
	case contest.TimerSyncEffect:
		if s.timer != nil {
			s.timer.Sync(e.RemainingSeconds, e.Paused, e.At)
			s.metrics.IncTimerResyncs()
		}
	case contest.TimerStopEffect:
		if s.timer != nil {
			s.timer.Stop()
		}
	case contest.NotifyEffect:
		s.emitNotification(e.Key, e.Text, e.At)
	}
}

func (s *Session) runChatEffect(effect chat.Effect) {
	switch e := effect.(type) {
	case chat.PresenceEffect:
		if s.presence != nil {
			s.presence.Apply(e.UserID, e.Online, e.LastSeen, e.At)
		}
	case chat.NotifyEffect:
		key := dedupe.NewKey("message", e.MessageID, e.At, s.dedupWindow())
		s.emitNotification(key, e.Text, e.At)
	}
}

func (s *Session) applyTick(remaining int) {
	s.mu.Lock()
	s.contestState = contest.ApplyLocalTick(s.contestState, remaining)
	s.mu.Unlock()
}

func (s *Session) applyAlert(alert timer.Alert) {
	switch alert.Kind {
	case timer.AlertEnded:
		s.mu.Lock()
		s.contestState = contest.ApplyTimerEnded(s.contestState)
		s.mu.Unlock()
		key := dedupe.NewKey(string(timer.AlertEnded), s.entityID, alert.At, s.dedupWindow())
		s.emitNotification(key, "Contest ended", alert.At)
	case timer.AlertEndingSoon:
		key := dedupe.NewKey(string(timer.AlertEndingSoon), s.entityID, alert.At, s.dedupWindow())
		s.emitNotification(key, "Contest ending soon", alert.At)
	}
}

func (s *Session) dedupWindow() time.Duration {
	if s.deduper != nil {
		return s.deduper.Window()
	}
	return 5 * time.Minute
}

func (s *Session) emitNotification(key dedupe.Key, text string, at time.Time) {
	if s.deduper != nil && !s.deduper.ShouldEmit(s.ctx, key) {
		s.metrics.IncNotificationsDeduped()
		return
	}
	notification := Notification{
		RoomID:   s.roomID,
		Kind:     key.Kind,
		SourceID: key.SourceID,
		Text:     text,
		At:       at,
	}
	select {
	case s.notifications <- notification:
	default:
		s.logger.Warn().Str("kind", key.Kind).Msg("Notification consumer lagging, dropped")
	}
}

// RoomID returns the session's room id.
func (s *Session) RoomID() string { return s.roomID }

// Class returns the session's room class.
func (s *Session) Class() events.RoomClass { return s.class }

// ContestState returns a stable snapshot; reducers never mutate in place,
// so the returned value will not change under the caller.
func (s *Session) ContestState() contest.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contestState
}

// ChatState returns a stable snapshot of the thread state.
func (s *Session) ChatState() chat.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatState
}

// Notifications delivers deduplicated notifications for this room.
func (s *Session) Notifications() <-chan Notification { return s.notifications }

// ConnState reports the push channel state, Disconnected when the session
// runs without one.
func (s *Session) ConnState() conn.State {
	if s.conn == nil {
		return conn.StateDisconnected
	}
	return s.conn.CurrentState()
}

// ConnStates exposes lifecycle transitions for a connectivity indicator.
func (s *Session) ConnStates() <-chan conn.StateChange {
	if s.conn == nil {
		return nil
	}
	return s.conn.States()
}

// Send writes an advisory frame to the push channel; a no-op while
// disconnected or when the session has no connection.
func (s *Session) Send(v interface{}) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Send(v)
}

// MarkRead clears the local unread counter. The REST read receipt is the
// caller's responsibility; this only updates the mirrored state.
func (s *Session) MarkRead() {
	s.mu.Lock()
	s.chatState = chat.MarkRead(s.chatState)
	s.mu.Unlock()
}

// Close stops the session loop and the timer. It does not close the
// connection; the engine owns that. After Done, no state change or
// notification is observable.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.cancel()
	})
}

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }
