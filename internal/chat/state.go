package chat

import (
	"sort"
	"time"
)

// Message is immutable once created; the log only ever appends, deduped by
// the server-assigned id.
type Message struct {
	ID         string
	ThreadID   string
	FromUserID string
	Text       string
	CreatedAt  time.Time
}

// State is the normalized chat thread state. Value semantics: Reduce never
// mutates its input.
type State struct {
	ThreadID               string
	SelfUserID             string
	Messages               []Message
	UnreadCount            int
	BlockedByMe            bool
	DisappearingAfterHours int

	messageIDs  map[string]bool
	lastApplied map[string]time.Time
}

// NewState returns the empty initial state for a thread room. selfUserID
// identifies the local user so inbound peer messages bump the unread count
// while the local echo does not.
func NewState(threadID, selfUserID string) State {
	return State{
		ThreadID:    threadID,
		SelfUserID:  selfUserID,
		messageIDs:  map[string]bool{},
		lastApplied: map[string]time.Time{},
	}
}

func (s State) clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.messageIDs = make(map[string]bool, len(s.messageIDs))
	for k := range s.messageIDs {
		out.messageIDs[k] = true
	}
	out.lastApplied = make(map[string]time.Time, len(s.lastApplied))
	for k, v := range s.lastApplied {
		out.lastApplied[k] = v
	}
	return out
}

func (s State) stale(field string, at time.Time) bool {
	last, ok := s.lastApplied[field]
	return ok && at.Before(last)
}

// HasMessage reports whether a message id is already in the log.
func (s State) HasMessage(id string) bool { return s.messageIDs[id] }

// MarkRead clears the unread counter, mirroring the REST read receipt.
func MarkRead(s State) State {
	out := s.clone()
	out.UnreadCount = 0
	return out
}

// insertOrdered keeps the log ordered by creation time, breaking ties by
// id so replays produce identical order.
func insertOrdered(messages []Message, msg Message) []Message {
	idx := sort.Search(len(messages), func(i int) bool {
		if messages[i].CreatedAt.Equal(msg.CreatedAt) {
			return messages[i].ID > msg.ID
		}
		return messages[i].CreatedAt.After(msg.CreatedAt)
	})
	messages = append(messages, Message{})
	copy(messages[idx+1:], messages[idx:])
	messages[idx] = msg
	return messages
}
