package contest

import (
	"time"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusOngoing  Status = "ongoing"
	StatusEnded    Status = "ended"
)

type Participant struct {
	UserID   string
	Username string
	Rank     int
	Score    int
	Accepted int
	Solved   int
}

// TimerSnapshot mirrors the reconciler's view of the contest clock. The
// value held here is derived state; the reconciler owns the ticking.
type TimerSnapshot struct {
	IsRunning            bool
	IsPaused             bool
	TimeRemainingSeconds int
	LastServerSyncAt     time.Time
	LastServerRemaining  int
}

// State is the normalized contest room state. It is a value type: Reduce
// never mutates its input, so snapshots handed to consumers stay stable.
type State struct {
	ContestID           string
	Title               string
	Status              Status
	Participants        map[string]Participant
	Leaderboard         []events.LeaderboardEntry
	Timer               TimerSnapshot
	RecentNotifications []string

	pendingRanks    map[string]pendingRank
	seenSubmissions map[string]bool
	solvedProblems  map[string]bool
	lastApplied     map[string]time.Time
}

type pendingRank struct {
	payload events.RankUpdatedPayload
	at      time.Time
}

// NewState returns the empty initial state for a contest room. Every later
// state must be derivable by replaying the event log from here.
func NewState(contestID string) State {
	return State{
		ContestID:       contestID,
		Status:          StatusUpcoming,
		Participants:    map[string]Participant{},
		pendingRanks:    map[string]pendingRank{},
		seenSubmissions: map[string]bool{},
		solvedProblems:  map[string]bool{},
		lastApplied:     map[string]time.Time{},
	}
}

func (s State) clone() State {
	out := s
	out.Participants = make(map[string]Participant, len(s.Participants))
	for k, v := range s.Participants {
		out.Participants[k] = v
	}
	out.Leaderboard = append([]events.LeaderboardEntry(nil), s.Leaderboard...)
	out.RecentNotifications = append([]string(nil), s.RecentNotifications...)
	out.pendingRanks = make(map[string]pendingRank, len(s.pendingRanks))
	for k, v := range s.pendingRanks {
		out.pendingRanks[k] = v
	}
	out.seenSubmissions = make(map[string]bool, len(s.seenSubmissions))
	for k := range s.seenSubmissions {
		out.seenSubmissions[k] = true
	}
	out.solvedProblems = make(map[string]bool, len(s.solvedProblems))
	for k := range s.solvedProblems {
		out.solvedProblems[k] = true
	}
	out.lastApplied = make(map[string]time.Time, len(s.lastApplied))
	for k, v := range s.lastApplied {
		out.lastApplied[k] = v
	}
	return out
}

// stale reports whether an event timestamped at is strictly older than the
// last applied write to the given logical field.
func (s State) stale(field string, at time.Time) bool {
	last, ok := s.lastApplied[field]
	return ok && at.Before(last)
}

// PendingRankCount reports how many rank patches are buffered waiting for a
// full leaderboard snapshot.
func (s State) PendingRankCount() int { return len(s.pendingRanks) }

// LastAppliedAt returns the last applied event timestamp for a logical
// field, or the zero time.
func (s State) LastAppliedAt(field string) time.Time { return s.lastApplied[field] }

// ApplyLocalTick folds the reconciler's locally estimated remaining time
// into the snapshot. It never resurrects a stopped timer.
func ApplyLocalTick(s State, remainingSeconds int) State {
	if !s.Timer.IsRunning || s.Timer.IsPaused {
		return s
	}
	out := s.clone()
	out.Timer.TimeRemainingSeconds = remainingSeconds
	return out
}

// ApplyTimerEnded transitions the contest to Ended when the local clock
// runs out, with no server event required.
func ApplyTimerEnded(s State) State {
	out := s.clone()
	out.Status = StatusEnded
	out.Timer.IsRunning = false
	out.Timer.TimeRemainingSeconds = 0
	return out
}
