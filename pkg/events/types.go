package events

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the closed set of event tags delivered over the push channel.
type EventType string

const (
	ContestStarted      EventType = "contest_started"
	ContestEnded        EventType = "contest_ended"
	ParticipantJoined   EventType = "participant_joined"
	ParticipantLeft     EventType = "participant_left"
	SubmissionAccepted  EventType = "submission_accepted"
	RankUpdated         EventType = "rank_updated"
	LeaderboardUpdated  EventType = "leaderboard_updated"
	TimerUpdated        EventType = "timer_updated"
	ProblemSolved       EventType = "problem_solved"
	ContestNotification EventType = "contest_notification"

	ChatMessage           EventType = "message"
	PresenceUpdate        EventType = "presence:update"
	ThreadSettingsChanged EventType = "thread:settings_changed"
)

// RoomClass distinguishes the two kinds of realtime rooms.
type RoomClass string

const (
	RoomClassContest RoomClass = "contest"
	RoomClassThread  RoomClass = "thread"
	RoomClassUnknown RoomClass = ""
)

var contestTypes = map[EventType]bool{
	ContestStarted:      true,
	ContestEnded:        true,
	ParticipantJoined:   true,
	ParticipantLeft:     true,
	SubmissionAccepted:  true,
	RankUpdated:         true,
	LeaderboardUpdated:  true,
	TimerUpdated:        true,
	ProblemSolved:       true,
	ContestNotification: true,
}

var chatTypes = map[EventType]bool{
	ChatMessage:           true,
	PresenceUpdate:        true,
	ThreadSettingsChanged: true,
}

// IsKnown reports whether t belongs to the closed event set.
func IsKnown(t EventType) bool {
	return contestTypes[t] || chatTypes[t]
}

// ClassOf returns the room class an event type belongs to.
func ClassOf(t EventType) RoomClass {
	switch {
	case contestTypes[t]:
		return RoomClassContest
	case chatTypes[t]:
		return RoomClassThread
	default:
		return RoomClassUnknown
	}
}

// Envelope is the wire frame for every inbound push event.
type Envelope struct {
	Type      EventType       `json:"type"`
	ContestID string          `json:"contestId,omitempty"`
	ThreadID  string          `json:"threadId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq,omitempty"`
}

// Class resolves the room class from the populated id field, falling back
// to the event type when both or neither are set.
func (e *Envelope) Class() RoomClass {
	if e.ContestID != "" && e.ThreadID == "" {
		return RoomClassContest
	}
	if e.ThreadID != "" && e.ContestID == "" {
		return RoomClassThread
	}
	return ClassOf(e.Type)
}

// EntityID returns the contest or thread id carried by the envelope.
func (e *Envelope) EntityID() string {
	if e.ContestID != "" {
		return e.ContestID
	}
	return e.ThreadID
}

// RoomID returns the fully qualified room id, e.g. "contest:abc123".
func (e *Envelope) RoomID() string {
	return BuildRoomID(e.Class(), e.EntityID())
}

// BuildRoomID joins a room class and entity id into a room id.
func BuildRoomID(class RoomClass, entityID string) string {
	if class == RoomClassUnknown || entityID == "" {
		return ""
	}
	return string(class) + ":" + entityID
}

// SplitRoomID breaks a room id into its class and entity id.
func SplitRoomID(roomID string) (RoomClass, string) {
	parts := strings.SplitN(roomID, ":", 2)
	if len(parts) != 2 {
		return RoomClassUnknown, roomID
	}
	switch parts[0] {
	case string(RoomClassContest):
		return RoomClassContest, parts[1]
	case string(RoomClassThread):
		return RoomClassThread, parts[1]
	default:
		return RoomClassUnknown, parts[1]
	}
}

type ContestStartedPayload struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
}

type ContestEndedPayload struct {
	Title   string    `json:"title"`
	EndTime time.Time `json:"endTime"`
}

type ParticipantJoinedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type ParticipantLeftPayload struct {
	UserID string `json:"userId"`
}

type SubmissionAcceptedPayload struct {
	SubmissionID string `json:"submissionId"`
	UserID       string `json:"userId"`
	ProblemID    string `json:"problemId"`
	Score        int    `json:"score"`
}

type ProblemSolvedPayload struct {
	UserID    string `json:"userId"`
	ProblemID string `json:"problemId"`
}

type RankUpdatedPayload struct {
	UserID string `json:"userId"`
	Rank   int    `json:"rank"`
	Score  int    `json:"score"`
}

type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Rank   int    `json:"rank"`
	Score  int    `json:"score"`
}

type LeaderboardUpdatedPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type TimerUpdatedPayload struct {
	TimeRemainingSeconds int  `json:"timeRemainingSeconds"`
	IsPaused             bool `json:"isPaused"`
}

type ContestNotificationPayload struct {
	Kind     string `json:"kind"`
	SourceID string `json:"sourceId"`
	Text     string `json:"text"`
}

type MessagePayload struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type PresenceUpdatePayload struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ThreadSettingsPayload struct {
	BlockedByMe            *bool `json:"blockedByMe,omitempty"`
	DisappearingAfterHours *int  `json:"disappearingAfterHours,omitempty"`
}
