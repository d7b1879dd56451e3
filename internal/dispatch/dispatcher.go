package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

// Sink receives the decoded events for one room. The session loop behind a
// sink serializes reducer invocations.
type Sink interface {
	HandleEvent(env *events.Envelope)
}

// Source produces raw inbound frames: a websocket connection, a Kafka
// topic, or a test feeding synthetic frames.
type Source interface {
	Frames() <-chan []byte
}

type registration struct {
	class events.RoomClass
	sink  Sink
}

// Dispatcher decodes inbound frames and routes each event to the sink
// registered for its room. Decode failures and stray events are logged and
// dropped; they never terminate anything.
type Dispatcher struct {
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu         sync.RWMutex
	sinks      map[string]registration
	lastUpdate map[string]time.Time
}

func New(clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		clock:      clock,
		metrics:    m,
		logger:     logger.With().Str("component", "dispatch").Logger(),
		sinks:      make(map[string]registration),
		lastUpdate: make(map[string]time.Time),
	}
}

// Register routes events for roomID to sink. Events whose class does not
// match the registration are dropped as stray.
func (d *Dispatcher) Register(roomID string, class events.RoomClass, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[roomID] = registration{class: class, sink: sink}
}

func (d *Dispatcher) Unregister(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinks, roomID)
	delete(d.lastUpdate, roomID)
}

// Run pumps frames from a source until the context is done.
func (d *Dispatcher) Run(ctx context.Context, src Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-src.Frames():
			if !ok {
				return
			}
			d.HandleFrame(raw)
		}
	}
}

// HandleFrame decodes and routes one raw frame.
func (d *Dispatcher) HandleFrame(raw []byte) {
	env, err := events.Decode(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Dropping undecodable frame")
		d.metrics.IncEventsDropped("decode")
		return
	}

	roomID := env.RoomID()
	d.mu.RLock()
	reg, ok := d.sinks[roomID]
	d.mu.RUnlock()

	if !ok {
		d.logger.Debug().Str("roomId", roomID).Str("type", string(env.Type)).Msg("Dropping event for unregistered room")
		d.metrics.IncEventsDropped("unknown_room")
		return
	}
	if reg.class != env.Class() {
		d.logger.Warn().Str("roomId", roomID).Str("type", string(env.Type)).Msg("Dropping stray event for mismatched room class")
		d.metrics.IncEventsDropped("class_mismatch")
		return
	}

	// Staleness is about the pipe, not reducer acceptance: record the
	// delivery before the reducer decides anything.
	d.mu.Lock()
	d.lastUpdate[roomID] = d.clock.Now()
	d.mu.Unlock()

	d.metrics.IncEventsDecoded(string(env.Type))
	reg.sink.HandleEvent(env)
}

// LastUpdate returns when the room last received any decodable event, for
// staleness indicators. Zero time when nothing has arrived yet.
func (d *Dispatcher) LastUpdate(roomID string) time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdate[roomID]
}
