package contest

import (
	"time"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/dedupe"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

const defaultMaxRecent = 64

// Effect is a side effect requested by the reducer. Reducers never perform
// I/O; they hand effects back for the session loop to execute.
type Effect interface{ isEffect() }

// NotifyEffect asks the session to surface a contest notification, subject
// to the global deduper.
type NotifyEffect struct {
	Key  dedupe.Key
	Text string
	At   time.Time
}

// TimerSyncEffect asks the timer reconciler to re-anchor to an
// authoritative server value.
type TimerSyncEffect struct {
	RemainingSeconds int
	Paused           bool
	At               time.Time
}

// TimerStopEffect asks the timer reconciler to stop ticking.
type TimerStopEffect struct{}

func (NotifyEffect) isEffect()    {}
func (TimerSyncEffect) isEffect() {}
func (TimerStopEffect) isEffect() {}

// Reducer applies contest room events. It carries only configuration; all
// per-room data lives in State.
type Reducer struct {
	NotifWindow time.Duration
	MaxRecent   int
}

// Reduce applies one inbound event, returning the next state and any
// effects. It is pure and tolerant of replayed, duplicated, and reordered
// delivery: per-field last-writer-wins on the server timestamp, and an
// event strictly older than the held value for a field it would overwrite
// is dropped.
func (r Reducer) Reduce(s State, env *events.Envelope) (State, []Effect) {
	switch env.Type {
	case events.ContestStarted:
		return r.reduceStarted(s, env)
	case events.ContestEnded:
		return r.reduceEnded(s, env)
	case events.ParticipantJoined:
		return r.reduceJoined(s, env)
	case events.ParticipantLeft:
		return r.reduceLeft(s, env)
	case events.SubmissionAccepted:
		return r.reduceSubmission(s, env)
	case events.ProblemSolved:
		return r.reduceSolved(s, env)
	case events.RankUpdated:
		return r.reduceRank(s, env)
	case events.LeaderboardUpdated:
		return r.reduceLeaderboard(s, env)
	case events.TimerUpdated:
		return r.reduceTimer(s, env)
	case events.ContestNotification:
		return r.reduceNotification(s, env)
	default:
		return s, nil
	}
}

func (r Reducer) reduceStarted(s State, env *events.Envelope) (State, []Effect) {
	if s.stale("status", env.Timestamp) || s.Status == StatusEnded {
		return s, nil
	}
	payload, err := parse[events.ContestStartedPayload](env)
	if err != nil {
		return s, nil
	}
	out := s.clone()
	out.Status = StatusOngoing
	if payload.Title != "" {
		out.Title = payload.Title
	}
	out.lastApplied["status"] = env.Timestamp
	return out, nil
}

func (r Reducer) reduceEnded(s State, env *events.Envelope) (State, []Effect) {
	if s.stale("status", env.Timestamp) {
		return s, nil
	}
	out := s.clone()
	out.Status = StatusEnded
	out.Timer.IsRunning = false
	out.lastApplied["status"] = env.Timestamp
	return out, []Effect{TimerStopEffect{}}
}

func (r Reducer) reduceJoined(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.ParticipantJoinedPayload](env)
	if err != nil || payload.UserID == "" {
		return s, nil
	}
	field := "participant:" + payload.UserID
	if s.stale(field, env.Timestamp) {
		return s, nil
	}
	if _, present := s.Participants[payload.UserID]; present {
		// Duplicate join is a no-op upsert, not an error.
		return s, nil
	}
	out := s.clone()
	out.Participants[payload.UserID] = Participant{
		UserID:   payload.UserID,
		Username: payload.Username,
	}
	out.lastApplied[field] = env.Timestamp
	return out, nil
}

func (r Reducer) reduceLeft(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.ParticipantLeftPayload](env)
	if err != nil || payload.UserID == "" {
		return s, nil
	}
	field := "participant:" + payload.UserID
	if s.stale(field, env.Timestamp) {
		return s, nil
	}
	if _, present := s.Participants[payload.UserID]; !present {
		return s, nil
	}
	out := s.clone()
	delete(out.Participants, payload.UserID)
	delete(out.pendingRanks, payload.UserID)
	out.lastApplied[field] = env.Timestamp
	return out, nil
}

// reduceSubmission records the acceptance against the participant. It does
// not touch the leaderboard: ranking is server-computed and arrives via a
// later leaderboard_updated.
func (r Reducer) reduceSubmission(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.SubmissionAcceptedPayload](env)
	if err != nil || payload.UserID == "" {
		return s, nil
	}
	if payload.SubmissionID != "" && s.seenSubmissions[payload.SubmissionID] {
		return s, nil
	}
	participant, present := s.Participants[payload.UserID]
	if !present {
		return s, nil
	}
	out := s.clone()
	participant.Accepted++
	out.Participants[payload.UserID] = participant
	if payload.SubmissionID != "" {
		out.seenSubmissions[payload.SubmissionID] = true
	}
	return out, nil
}

func (r Reducer) reduceSolved(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.ProblemSolvedPayload](env)
	if err != nil || payload.UserID == "" {
		return s, nil
	}
	key := payload.UserID + "/" + payload.ProblemID
	if s.solvedProblems[key] {
		return s, nil
	}
	participant, present := s.Participants[payload.UserID]
	if !present {
		return s, nil
	}
	out := s.clone()
	participant.Solved++
	out.Participants[payload.UserID] = participant
	out.solvedProblems[key] = true
	return out, nil
}

// reduceRank merge-patches one entry of the held leaderboard. A patch for a
// user the local board does not know yet is buffered: patching unknown
// state is unsafe, so it waits for the next full snapshot.
func (r Reducer) reduceRank(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.RankUpdatedPayload](env)
	if err != nil || payload.UserID == "" {
		return s, nil
	}
	if s.stale("leaderboard", env.Timestamp) {
		return s, nil
	}
	idx := -1
	for i, entry := range s.Leaderboard {
		if entry.UserID == payload.UserID {
			idx = i
			break
		}
	}
	out := s.clone()
	if idx < 0 {
		if pending, ok := out.pendingRanks[payload.UserID]; !ok || env.Timestamp.After(pending.at) {
			out.pendingRanks[payload.UserID] = pendingRank{payload: *payload, at: env.Timestamp}
		}
		return out, nil
	}
	out.Leaderboard[idx].Rank = payload.Rank
	out.Leaderboard[idx].Score = payload.Score
	out.applyEntryToParticipant(out.Leaderboard[idx])
	return out, nil
}

// reduceLeaderboard replaces the held board with the authoritative server
// snapshot, resolving any accumulated patch drift, then drains buffered
// rank patches that are newer than the snapshot.
func (r Reducer) reduceLeaderboard(s State, env *events.Envelope) (State, []Effect) {
	if s.stale("leaderboard", env.Timestamp) {
		return s, nil
	}
	payload, err := parse[events.LeaderboardUpdatedPayload](env)
	if err != nil {
		return s, nil
	}
	out := s.clone()
	out.Leaderboard = append([]events.LeaderboardEntry(nil), payload.Entries...)
	for _, entry := range out.Leaderboard {
		out.applyEntryToParticipant(entry)
	}
	for userID, pending := range out.pendingRanks {
		if pending.at.After(env.Timestamp) {
			for i := range out.Leaderboard {
				if out.Leaderboard[i].UserID == userID {
					out.Leaderboard[i].Rank = pending.payload.Rank
					out.Leaderboard[i].Score = pending.payload.Score
					out.applyEntryToParticipant(out.Leaderboard[i])
					break
				}
			}
		}
		delete(out.pendingRanks, userID)
	}
	out.lastApplied["leaderboard"] = env.Timestamp
	return out, nil
}

// reduceTimer re-anchors the timer snapshot; it never decrements time
// itself, that is the reconciler's job.
func (r Reducer) reduceTimer(s State, env *events.Envelope) (State, []Effect) {
	if s.stale("timer", env.Timestamp) {
		return s, nil
	}
	payload, err := parse[events.TimerUpdatedPayload](env)
	if err != nil {
		return s, nil
	}
	out := s.clone()
	out.Timer.LastServerSyncAt = env.Timestamp
	out.Timer.LastServerRemaining = payload.TimeRemainingSeconds
	out.Timer.TimeRemainingSeconds = payload.TimeRemainingSeconds
	out.Timer.IsPaused = payload.IsPaused
	out.Timer.IsRunning = payload.TimeRemainingSeconds > 0 && out.Status != StatusEnded
	out.lastApplied["timer"] = env.Timestamp
	effect := TimerSyncEffect{
		RemainingSeconds: payload.TimeRemainingSeconds,
		Paused:           payload.IsPaused,
		At:               env.Timestamp,
	}
	return out, []Effect{effect}
}

func (r Reducer) reduceNotification(s State, env *events.Envelope) (State, []Effect) {
	payload, err := parse[events.ContestNotificationPayload](env)
	if err != nil {
		return s, nil
	}
	key := dedupe.NewKey(payload.Kind, payload.SourceID, env.Timestamp, r.NotifWindow)
	id := key.String()
	for _, seen := range s.RecentNotifications {
		if seen == id {
			return s, nil
		}
	}
	out := s.clone()
	out.RecentNotifications = append(out.RecentNotifications, id)
	maxRecent := r.MaxRecent
	if maxRecent <= 0 {
		maxRecent = defaultMaxRecent
	}
	if len(out.RecentNotifications) > maxRecent {
		out.RecentNotifications = out.RecentNotifications[len(out.RecentNotifications)-maxRecent:]
	}
	return out, []Effect{NotifyEffect{Key: key, Text: payload.Text, At: env.Timestamp}}
}

func (s *State) applyEntryToParticipant(entry events.LeaderboardEntry) {
	participant, present := s.Participants[entry.UserID]
	if !present {
		participant = Participant{UserID: entry.UserID}
	}
	participant.Rank = entry.Rank
	participant.Score = entry.Score
	s.Participants[entry.UserID] = participant
}

func parse[T any](env *events.Envelope) (*T, error) {
	payload, err := events.ParsePayload(env)
	if err != nil {
		return nil, err
	}
	typed, ok := payload.(*T)
	if !ok {
		return nil, events.ErrMalformedFrame
	}
	return typed, nil
}
