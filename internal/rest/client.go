package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the REST collaborator. Authoritative client writes
// (sending a message, blocking a user, changing settings) go through here;
// the push channel is never the sole path for a write.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "rest").Logger(),
	}
}

type Thread struct {
	ID                     string    `json:"id"`
	PeerUserID             string    `json:"peerUserId"`
	LastMessageAt          time.Time `json:"lastMessageAt"`
	UnreadCount            int       `json:"unreadCount"`
	BlockedByMe            bool      `json:"blockedByMe"`
	DisappearingAfterHours int       `json:"disappearingAfterHours"`
}

type ThreadMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	FromUserID string    `json:"fromUserId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessagePage is one page of a thread's message history, oldest first.
type MessagePage struct {
	Messages   []ThreadMessage `json:"messages"`
	NextCursor string          `json:"nextCursor"`
}

func (c *Client) ListThreads(ctx context.Context) ([]Thread, error) {
	var threads []Thread
	if err := c.doJSON(ctx, http.MethodGet, "/threads", nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func (c *Client) ListMessages(ctx context.Context, threadID, cursor string, limit int) (*MessagePage, error) {
	endpoint := "/threads/" + url.PathEscape(threadID) + "/messages"
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var page MessagePage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) SendMessage(ctx context.Context, threadID, text string) (*ThreadMessage, error) {
	body := map[string]string{"text": text}
	var msg ThreadMessage
	endpoint := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	return c.doJSON(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/read", nil, nil)
}

func (c *Client) Block(ctx context.Context, threadID string) error {
	return c.doJSON(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/block", nil, nil)
}

func (c *Client) Unblock(ctx context.Context, threadID string) error {
	return c.doJSON(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/unblock", nil, nil)
}

func (c *Client) UpdateSettings(ctx context.Context, threadID string, disappearingAfterHours int) error {
	body := map[string]int{"disappearingAfterHours": disappearingAfterHours}
	return c.doJSON(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/settings", body, nil)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
