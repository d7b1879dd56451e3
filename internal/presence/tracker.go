package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is a peer's derived presence. Ephemeral: never persisted, rebuilt
// from the presence event stream each session.
type Record struct {
	UserID   string
	Online   bool
	LastSeen *time.Time
}

// Tracker derives per-peer presence from the lightweight presence event
// stream. Subscriptions are scoped to a thread view and released when the
// view closes, which bounds server-side fan-out; updates for users nobody
// subscribed to are dropped.
type Tracker struct {
	mu       sync.RWMutex
	records  map[string]Record
	byThread map[string]map[string]bool
	refs     map[string]int

	updates chan Record
	logger  zerolog.Logger
}

func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		records:  make(map[string]Record),
		byThread: make(map[string]map[string]bool),
		refs:     make(map[string]int),
		updates:  make(chan Record, 16),
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Updates delivers presence transitions for subscribed users.
func (t *Tracker) Updates() <-chan Record { return t.updates }

// Subscribe registers interest in the given peers for one thread view.
// Subscribing the same thread again replaces its peer set.
func (t *Tracker) Subscribe(threadID string, userIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.releaseLocked(threadID)

	peers := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" || peers[userID] {
			continue
		}
		peers[userID] = true
		t.refs[userID]++
	}
	t.byThread[threadID] = peers

	t.logger.Debug().Str("threadId", threadID).Int("peers", len(peers)).Msg("Presence subscription updated")
}

// Unsubscribe releases the thread view's peers. Records for users with no
// remaining subscribers are discarded.
func (t *Tracker) Unsubscribe(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(threadID)
}

func (t *Tracker) releaseLocked(threadID string) {
	peers, ok := t.byThread[threadID]
	if !ok {
		return
	}
	delete(t.byThread, threadID)
	for userID := range peers {
		t.refs[userID]--
		if t.refs[userID] <= 0 {
			delete(t.refs, userID)
			delete(t.records, userID)
		}
	}
}

// Apply folds one presence event into the tracker. lastSeen only advances
// on a transition to offline; flapping online events never touch it.
func (t *Tracker) Apply(userID string, online bool, lastSeen *time.Time, at time.Time) {
	t.mu.Lock()
	if _, subscribed := t.refs[userID]; !subscribed {
		t.mu.Unlock()
		return
	}

	record, existed := t.records[userID]
	record.UserID = userID
	wasOnline := existed && record.Online
	record.Online = online
	if !online && (wasOnline || !existed) {
		if lastSeen != nil {
			record.LastSeen = lastSeen
		} else {
			seenAt := at
			record.LastSeen = &seenAt
		}
	}
	t.records[userID] = record
	t.mu.Unlock()

	select {
	case t.updates <- record:
	default:
		t.logger.Debug().Str("userId", userID).Msg("Presence consumer lagging, dropped update")
	}
}

// Get returns the derived record for a subscribed user.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[userID]
	return record, ok
}

// Subscribed reports whether any thread view currently references the user.
func (t *Tracker) Subscribed(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.refs[userID]
	return ok
}
