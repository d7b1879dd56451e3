package chat

import (
	"time"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

// Effect is a side effect requested by the reducer.
type Effect interface{ isEffect() }

// PresenceEffect hands a presence update to the presence tracker; presence
// is derived state and never stored on the thread directly.
type PresenceEffect struct {
	UserID   string
	Online   bool
	LastSeen *time.Time
	At       time.Time
}

// NotifyEffect surfaces an inbound peer message to the consumer.
type NotifyEffect struct {
	MessageID  string
	FromUserID string
	Text       string
	At         time.Time
}

func (PresenceEffect) isEffect() {}
func (NotifyEffect) isEffect()   {}

// Reducer applies chat thread events.
type Reducer struct{}

// Reduce applies one inbound event, pure and idempotent. Message dedup is
// strictly by id: a duplicate delivery after reconnect and the server echo
// of an optimistically appended local message both collapse onto the
// already-held copy, never via content matching.
func (r Reducer) Reduce(s State, env *events.Envelope) (State, []Effect) {
	switch env.Type {
	case events.ChatMessage:
		return r.reduceMessage(s, env)
	case events.PresenceUpdate:
		return r.reducePresence(s, env)
	case events.ThreadSettingsChanged:
		return r.reduceSettings(s, env)
	default:
		return s, nil
	}
}

func (r Reducer) reduceMessage(s State, env *events.Envelope) (State, []Effect) {
	payload, err := events.ParsePayload(env)
	if err != nil {
		return s, nil
	}
	msg, ok := payload.(*events.MessagePayload)
	if !ok || msg.ID == "" {
		return s, nil
	}
	if s.messageIDs[msg.ID] {
		return s, nil
	}
	out := s.clone()
	created := msg.CreatedAt
	if created.IsZero() {
		created = env.Timestamp
	}
	out.Messages = insertOrdered(out.Messages, Message{
		ID:         msg.ID,
		ThreadID:   s.ThreadID,
		FromUserID: msg.FromUserID,
		Text:       msg.Text,
		CreatedAt:  created,
	})
	out.messageIDs[msg.ID] = true

	var effects []Effect
	if msg.FromUserID != s.SelfUserID {
		out.UnreadCount++
		effects = append(effects, NotifyEffect{
			MessageID:  msg.ID,
			FromUserID: msg.FromUserID,
			Text:       msg.Text,
			At:         created,
		})
	}
	return out, effects
}

func (r Reducer) reducePresence(s State, env *events.Envelope) (State, []Effect) {
	payload, err := events.ParsePayload(env)
	if err != nil {
		return s, nil
	}
	presence, ok := payload.(*events.PresenceUpdatePayload)
	if !ok || presence.UserID == "" {
		return s, nil
	}
	effect := PresenceEffect{
		UserID:   presence.UserID,
		Online:   presence.Online,
		LastSeen: presence.LastSeen,
		At:       env.Timestamp,
	}
	return s, []Effect{effect}
}

func (r Reducer) reduceSettings(s State, env *events.Envelope) (State, []Effect) {
	if s.stale("settings", env.Timestamp) {
		return s, nil
	}
	payload, err := events.ParsePayload(env)
	if err != nil {
		return s, nil
	}
	settings, ok := payload.(*events.ThreadSettingsPayload)
	if !ok {
		return s, nil
	}
	out := s.clone()
	if settings.BlockedByMe != nil {
		out.BlockedByMe = *settings.BlockedByMe
	}
	if settings.DisappearingAfterHours != nil {
		out.DisappearingAfterHours = *settings.DisappearingAfterHours
	}
	out.lastApplied["settings"] = env.Timestamp
	return out, nil
}
