package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func threadEnv(t *testing.T, eventType events.EventType, at time.Time, payload interface{}) *events.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &events.Envelope{
		Type:      eventType,
		ThreadID:  "t-1",
		Data:      data,
		Timestamp: at,
	}
}

func messageEnv(t *testing.T, id, from, text string, at time.Time) *events.Envelope {
	t.Helper()
	return threadEnv(t, events.ChatMessage, at, events.MessagePayload{
		ID: id, FromUserID: from, Text: text, CreatedAt: at,
	})
}

func TestMessageDedupByID(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	msg := messageEnv(t, "m-1", "peer", "hello", t0)
	state, effects := r.Reduce(state, msg)
	require.Len(t, state.Messages, 1)
	require.Len(t, effects, 1)

	// Duplicate delivery after reconnect replays the same frame.
	state, effects = r.Reduce(state, msg)
	assert.Len(t, state.Messages, 1, "same id must collapse onto one copy")
	assert.Empty(t, effects)
	assert.Equal(t, 1, state.UnreadCount)
}

func TestOptimisticEchoCollapses(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	// Local optimistic append, then the server echo of the same message.
	local := messageEnv(t, "m-9", "me", "on my way", t0)
	state, effects := r.Reduce(state, local)
	assert.Empty(t, effects, "own message must not notify")
	assert.Zero(t, state.UnreadCount, "own message must not bump unread")

	echo := messageEnv(t, "m-9", "me", "on my way", t0.Add(time.Second))
	state, _ = r.Reduce(state, echo)
	assert.Len(t, state.Messages, 1)
	assert.True(t, state.HasMessage("m-9"))
}

func TestUnreadCountPeerOnly(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	state, _ = r.Reduce(state, messageEnv(t, "m-1", "peer", "a", t0))
	state, _ = r.Reduce(state, messageEnv(t, "m-2", "me", "b", t0.Add(time.Second)))
	state, _ = r.Reduce(state, messageEnv(t, "m-3", "peer", "c", t0.Add(2*time.Second)))
	assert.Equal(t, 2, state.UnreadCount)

	state = MarkRead(state)
	assert.Zero(t, state.UnreadCount)
	assert.Len(t, state.Messages, 3, "read receipt keeps the log intact")
}

func TestMessagesOrderedByCreation(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	// Out-of-order delivery; the log still sorts by creation time.
	state, _ = r.Reduce(state, messageEnv(t, "m-2", "peer", "second", t0.Add(time.Minute)))
	state, _ = r.Reduce(state, messageEnv(t, "m-1", "peer", "first", t0))
	state, _ = r.Reduce(state, messageEnv(t, "m-3", "peer", "third", t0.Add(2*time.Minute)))

	require.Len(t, state.Messages, 3)
	assert.Equal(t, "m-1", state.Messages[0].ID)
	assert.Equal(t, "m-2", state.Messages[1].ID)
	assert.Equal(t, "m-3", state.Messages[2].ID)
}

func TestPresenceUpdateProducesEffectOnly(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	lastSeen := t0.Add(-time.Minute)
	env := threadEnv(t, events.PresenceUpdate, t0, events.PresenceUpdatePayload{
		UserID: "peer", Online: false, LastSeen: &lastSeen,
	})
	next, effects := r.Reduce(state, env)
	require.Len(t, effects, 1)
	effect := effects[0].(PresenceEffect)
	assert.Equal(t, "peer", effect.UserID)
	assert.False(t, effect.Online)
	require.NotNil(t, effect.LastSeen)
	assert.Equal(t, lastSeen, *effect.LastSeen)

	assert.Equal(t, state.Messages, next.Messages, "presence never lands in thread state")
}

func TestSettingsPartialReplace(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	blocked := true
	state, _ = r.Reduce(state, threadEnv(t, events.ThreadSettingsChanged, t0, events.ThreadSettingsPayload{BlockedByMe: &blocked}))
	assert.True(t, state.BlockedByMe)
	assert.Zero(t, state.DisappearingAfterHours)

	// A later event carrying only the disappearing setting must not reset
	// the block flag.
	hours := 24
	state, _ = r.Reduce(state, threadEnv(t, events.ThreadSettingsChanged, t0.Add(time.Minute), events.ThreadSettingsPayload{DisappearingAfterHours: &hours}))
	assert.True(t, state.BlockedByMe)
	assert.Equal(t, 24, state.DisappearingAfterHours)
}

func TestStaleSettingsDropped(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")

	blocked := true
	state, _ = r.Reduce(state, threadEnv(t, events.ThreadSettingsChanged, t0.Add(time.Hour), events.ThreadSettingsPayload{BlockedByMe: &blocked}))

	unblocked := false
	state, _ = r.Reduce(state, threadEnv(t, events.ThreadSettingsChanged, t0, events.ThreadSettingsPayload{BlockedByMe: &unblocked}))
	assert.True(t, state.BlockedByMe, "replayed older settings must lose")
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	r := Reducer{}
	state := NewState("t-1", "me")
	state, _ = r.Reduce(state, messageEnv(t, "m-1", "peer", "a", t0))

	snapshot := state
	_, _ = r.Reduce(state, messageEnv(t, "m-2", "peer", "b", t0.Add(time.Second)))

	assert.Len(t, snapshot.Messages, 1)
	assert.Equal(t, 1, snapshot.UnreadCount)
}
