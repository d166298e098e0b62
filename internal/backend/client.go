package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workbench/internal/chat"
)

// Client consumes the backend's session CRUD surface. The core only needs
// it to persist and enumerate sessions; it never renders them.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListSessions fetches all sessions known to the backend.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: status=%d", resp.StatusCode)
	}
	var sessions []chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession registers a session with the backend.
func (c *Client) CreateSession(ctx context.Context, agentKind, title string) (chat.Session, error) {
	body, err := json.Marshal(map[string]string{"agent": agentKind, "title": title})
	if err != nil {
		return chat.Session{}, fmt.Errorf("marshal session request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chat.Session{}, fmt.Errorf("create session: status=%d", resp.StatusCode)
	}
	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return chat.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

// SaveSession mirrors a locally started session to the backend, keeping the
// local id so later touch calls line up.
func (c *Client) SaveSession(ctx context.Context, session chat.Session) error {
	body, err := json.Marshal(map[string]string{
		"id":    session.ID,
		"agent": session.AgentKind,
		"title": session.Title,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("save session: status=%d", resp.StatusCode)
	}
	return nil
}

// TouchSession bumps the backend's lastUpdated for the session. The store
// calls this fire-and-forget; errors are suppressed there.
func (c *Client) TouchSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/sessions/"+id, nil)
	if err != nil {
		return fmt.Errorf("create touch request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("touch session: status=%d", resp.StatusCode)
	}
	return nil
}

// ClearSessions drops every session on the backend.
func (c *Client) ClearSessions(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions", nil)
	if err != nil {
		return fmt.Errorf("create clear request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clear sessions: status=%d", resp.StatusCode)
	}
	return nil
}

// RecordMessage satisfies the store collaborator contract; the session
// backend has no message endpoint, so only the touch side carries state.
func (c *Client) RecordMessage(context.Context, chat.Message) error { return nil }
