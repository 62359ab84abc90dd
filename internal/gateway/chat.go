package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChatClient talks to the chat backend (DMs and group rooms).
type ChatClient struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
	filter  StyleFilter
}

// NewChatClient builds a chat gateway client.
func NewChatClient(client *http.Client, baseURL string, filter StyleFilter, logger *slog.Logger) *ChatClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		filter:  filter,
	}
}

// WaitReady blocks until the backend answers, with bounded backoff.
func (c *ChatClient) WaitReady(ctx context.Context) error {
	return waitReady(ctx, func(ctx context.Context) error {
		return httpJSON(ctx, c.client, http.MethodGet, c.baseURL+"/health", nil, nil)
	})
}

// EnsureUser creates the chat account if missing; idempotent on the backend.
func (c *ChatClient) EnsureUser(ctx context.Context, handle, displayName string) error {
	payload := map[string]string{"handle": handle, "display_name": displayName}
	if err := httpJSON(ctx, c.client, http.MethodPost, c.baseURL+"/users", payload, nil); err != nil {
		return fmt.Errorf("chat: ensure user %s: %w", handle, err)
	}
	return nil
}

// SendDM sends a direct message.
func (c *ChatClient) SendDM(ctx context.Context, sender, recipient, body string, senderPersonaID int64, sentAt time.Time) error {
	payload := map[string]string{
		"sender":      sender,
		"recipient":   recipient,
		"body":        applyFilter(c.filter, body, senderPersonaID, "chat"),
		"sent_at_iso": sentAt.UTC().Format(time.RFC3339),
	}
	if err := httpJSON(ctx, c.client, http.MethodPost, c.baseURL+"/dms", payload, nil); err != nil {
		return fmt.Errorf("chat: dm %s -> %s: %w", sender, recipient, err)
	}
	return nil
}

// CreateRoom creates a group room with the given participants.
func (c *ChatClient) CreateRoom(name string, participants []string, slug string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	payload := map[string]any{
		"name":         name,
		"participants": participants,
		"slug":         slug,
	}
	if err := httpJSON(ctx, c.client, http.MethodPost, c.baseURL+"/rooms", payload, nil); err != nil {
		return fmt.Errorf("chat: create room %s: %w", slug, err)
	}
	return nil
}

// SendRoomMessage posts into a group room.
func (c *ChatClient) SendRoomMessage(ctx context.Context, slug, sender, body string, senderPersonaID int64, sentAt time.Time) error {
	payload := map[string]string{
		"sender":      sender,
		"body":        applyFilter(c.filter, body, senderPersonaID, "chat"),
		"sent_at_iso": sentAt.UTC().Format(time.RFC3339),
	}
	u := c.baseURL + "/rooms/" + url.PathEscape(slug) + "/messages"
	if err := httpJSON(ctx, c.client, http.MethodPost, u, payload, nil); err != nil {
		return fmt.Errorf("chat: room message %s -> %s: %w", sender, slug, err)
	}
	return nil
}

// DeleteMessagesAfter removes backend rows sent after the cutoff (rewind path).
func (c *ChatClient) DeleteMessagesAfter(ctx context.Context, cutoff time.Time) error {
	u := c.baseURL + "/messages?sent_after=" + url.QueryEscape(cutoff.UTC().Format(time.RFC3339))
	if err := httpJSON(ctx, c.client, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("chat: delete after %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// TruncateAll clears the backend store (full reset path).
func (c *ChatClient) TruncateAll(ctx context.Context) error {
	if err := httpJSON(ctx, c.client, http.MethodDelete, c.baseURL+"/messages", nil, nil); err != nil {
		return fmt.Errorf("chat: truncate: %w", err)
	}
	return nil
}
