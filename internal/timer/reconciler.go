package timer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// EndingSoonThreshold is the remaining-time mark that triggers the single
// "ending soon" alert.
const EndingSoonThreshold = 300

type Phase int

const (
	PhaseStopped Phase = iota
	PhaseRunning
	PhasePaused
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseEnded:
		return "ended"
	default:
		return "stopped"
	}
}

type AlertKind string

const (
	AlertEndingSoon AlertKind = "ending_soon"
	AlertEnded      AlertKind = "ended"
)

type Alert struct {
	Kind             AlertKind
	ContestID        string
	RemainingSeconds int
	At               time.Time
}

// Reconciler advances a contest countdown locally at 1 Hz and re-anchors
// to authoritative server syncs. Each tick subtracts the elapsed wall-clock
// delta since the previous tick, not a flat second, so a suspended process
// catches up in one step. Ended is terminal.
type Reconciler struct {
	contestID string
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu                  sync.Mutex
	phase               Phase
	remaining           float64
	lastTick            time.Time
	lastServerSyncAt    time.Time
	lastServerRemaining int
	endingSoonFired     bool
	endedFired          bool

	alerts chan Alert
	ticks  chan int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(contestID string, clock clockwork.Clock, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		contestID: contestID,
		clock:     clock,
		logger:    logger.With().Str("component", "timer").Str("contestId", contestID).Logger(),
		alerts:    make(chan Alert, 8),
		ticks:     make(chan int, 8),
		stopCh:    make(chan struct{}),
	}
}

// Alerts delivers threshold-crossing notifications.
func (r *Reconciler) Alerts() <-chan Alert { return r.alerts }

// Ticks delivers the locally estimated remaining seconds after each tick.
func (r *Reconciler) Ticks() <-chan int { return r.ticks }

// Start launches the 1 Hz tick loop. It returns immediately; the loop runs
// until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) {
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.Chan():
			r.tick(now)
		}
	}
}

// Stop halts ticking deterministically: no tick or alert is delivered
// after Stop returns and the loop has exited.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Sync discards the local estimate and adopts an authoritative server
// value, adjusted by the delivery delay since serverTimestamp. This bounds
// drift to the interval between syncs regardless of local clock accuracy.
func (r *Reconciler) Sync(remainingSeconds int, paused bool, serverTimestamp time.Time) {
	r.mu.Lock()
	now := r.clock.Now()
	adjusted := float64(remainingSeconds)
	if delay := now.Sub(serverTimestamp).Seconds(); delay > 0 {
		adjusted -= delay
	}
	r.lastServerSyncAt = serverTimestamp
	r.lastServerRemaining = remainingSeconds
	r.remaining = adjusted
	r.lastTick = now

	var fired []Alert
	switch {
	case r.phase == PhaseEnded:
		// Terminal: a late sync cannot revive an ended contest.
	case adjusted <= 0:
		r.remaining = 0
		r.phase = PhaseEnded
		if !r.endedFired {
			r.endedFired = true
			fired = append(fired, Alert{Kind: AlertEnded, ContestID: r.contestID, At: now})
		}
	case paused:
		r.phase = PhasePaused
	default:
		r.phase = PhaseRunning
	}
	r.logger.Debug().
		Int("serverRemaining", remainingSeconds).
		Float64("adjusted", adjusted).
		Bool("paused", paused).
		Msg("Re-anchored to server timer")
	r.mu.Unlock()

	r.emit(fired)
}

// Pause suspends ticking without resetting the remaining time.
func (r *Reconciler) Pause() {
	r.mu.Lock()
	if r.phase == PhaseRunning {
		r.phase = PhasePaused
	}
	r.mu.Unlock()
}

// Resume continues ticking from the held remaining time.
func (r *Reconciler) Resume() {
	r.mu.Lock()
	if r.phase == PhasePaused {
		r.phase = PhaseRunning
		r.lastTick = r.clock.Now()
	}
	r.mu.Unlock()
}

// Remaining returns the current local estimate in whole seconds.
func (r *Reconciler) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(math.Round(r.remaining))
}

func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Reconciler) tick(now time.Time) {
	r.mu.Lock()
	if r.phase != PhaseRunning {
		// Keep the anchor moving while paused so resuming does not
		// subtract the paused interval.
		r.lastTick = now
		r.mu.Unlock()
		return
	}

	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed <= 0 {
		r.mu.Unlock()
		return
	}
	r.lastTick = now

	prev := r.remaining
	r.remaining -= elapsed

	var fired []Alert
	if !r.endingSoonFired && prev > EndingSoonThreshold && r.remaining <= EndingSoonThreshold && r.remaining > 0 {
		r.endingSoonFired = true
		fired = append(fired, Alert{
			Kind:             AlertEndingSoon,
			ContestID:        r.contestID,
			RemainingSeconds: int(math.Round(r.remaining)),
			At:               now,
		})
	}
	if r.remaining <= 0 {
		r.remaining = 0
		r.phase = PhaseEnded
		if !r.endedFired {
			r.endedFired = true
			fired = append(fired, Alert{Kind: AlertEnded, ContestID: r.contestID, At: now})
		}
	}
	remaining := int(math.Round(r.remaining))
	r.mu.Unlock()

	select {
	case r.ticks <- remaining:
	default:
		r.logger.Debug().Int("remaining", remaining).Msg("Tick consumer lagging, dropped tick")
	}
	r.emit(fired)
}

func (r *Reconciler) emit(alerts []Alert) {
	for _, alert := range alerts {
		select {
		case r.alerts <- alert:
		case <-r.stopCh:
			return
		}
	}
}
