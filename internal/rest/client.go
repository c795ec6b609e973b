// Package rest wraps the conversation endpoints of the collaboration
// backend. The backend reports failures two ways: transport/status errors
// and an isSuccess=false envelope on a 200; both surface as errors here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"teamchat/internal/model"
)

// Client talks to the chat-conversation REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type listEnvelope struct {
	IsSuccess         bool                        `json:"isSuccess"`
	ChatConversations []model.ConversationSummary `json:"chatConversations"`
}

type detailEnvelope struct {
	IsSuccess        bool                      `json:"isSuccess"`
	ChatConversation *model.ConversationDetail `json:"chatConversation"`
}

type statusEnvelope struct {
	IsSuccess bool `json:"isSuccess"`
}

// ListConversations fetches the summaries for one team.
func (c *Client) ListConversations(ctx context.Context, teamID int64) ([]model.ConversationSummary, error) {
	var env listEnvelope
	path := fmt.Sprintf("/chat-conversation?TeamId=%d", teamID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if !env.IsSuccess {
		return nil, fmt.Errorf("list conversations: backend reported failure")
	}
	return env.ChatConversations, nil
}

// GetConversation fetches the full detail for one conversation.
func (c *Client) GetConversation(ctx context.Context, id int64) (*model.ConversationDetail, error) {
	var env detailEnvelope
	path := fmt.Sprintf("/chat-conversation/%d", id)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	if !env.IsSuccess || env.ChatConversation == nil {
		return nil, fmt.Errorf("get conversation %d: backend reported failure", id)
	}
	return env.ChatConversation, nil
}

// MarkRead marks a conversation read for the authenticated user.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	var env statusEnvelope
	path := fmt.Sprintf("/chat-conversation/%d/is-read", id)
	if err := c.do(ctx, http.MethodPatch, path, nil, &env); err != nil {
		return fmt.Errorf("mark read %d: %w", id, err)
	}
	if !env.IsSuccess {
		return fmt.Errorf("mark read %d: backend reported failure", id)
	}
	return nil
}

// CreateConversation creates a conversation in a team.
func (c *Client) CreateConversation(ctx context.Context, teamID int64, name string) error {
	body := map[string]any{"teamId": teamID, "conversationName": name}
	var env statusEnvelope
	if err := c.do(ctx, http.MethodPost, "/chat-conversation", body, &env); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if !env.IsSuccess {
		return fmt.Errorf("create conversation: backend reported failure")
	}
	return nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/chat-conversation/%d", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		// Drain so the connection goes back to the keep-alive pool.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
