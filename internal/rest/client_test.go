package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", zerolog.Nop())
}

func TestListMessagesPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/t-1/messages", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(MessagePage{
			Messages:   []ThreadMessage{{ID: "m-1", ThreadID: "t-1", Text: "hi"}},
			NextCursor: "def",
		})
	})

	page, err := c.ListMessages(context.Background(), "t-1", "abc", 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m-1", page.Messages[0].ID)
	assert.Equal(t, "def", page.NextCursor)
}

func TestSendMessageReturnsServerAssignedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads/t-1/messages", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		json.NewEncoder(w).Encode(ThreadMessage{ID: "m-42", ThreadID: "t-1", Text: body["text"]})
	})

	msg, err := c.SendMessage(context.Background(), "t-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m-42", msg.ID)
}

func TestMarkReadHitsReadEndpoint(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.MarkRead(context.Background(), "t-1"))
	assert.Equal(t, "/threads/t-1/read", path)
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"blocked"}`, http.StatusForbidden)
	})

	_, err := c.SendMessage(context.Background(), "t-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestListThreads(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads", r.URL.Path)
		json.NewEncoder(w).Encode([]Thread{
			{ID: "t-1", PeerUserID: "peer", UnreadCount: 2},
		})
	})

	threads, err := c.ListThreads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 2, threads[0].UnreadCount)
}
