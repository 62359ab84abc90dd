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

// EmailClient talks to the email backend.
type EmailClient struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
	filter  StyleFilter
}

// NewEmailClient builds an email gateway client.
func NewEmailClient(client *http.Client, baseURL string, filter StyleFilter, logger *slog.Logger) *EmailClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		filter:  filter,
	}
}

// SendEmailRequest is the outgoing email payload.
type SendEmailRequest struct {
	Sender   string   `json:"sender"`
	To       []string `json:"to"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	ThreadID string   `json:"thread_id,omitempty"`
	SentAt   string   `json:"sent_at_iso,omitempty"`

	// SenderPersonaID routes the style filter; not serialized.
	SenderPersonaID int64 `json:"-"`
}

// SendEmailResponse carries the backend-assigned id.
type SendEmailResponse struct {
	ID string `json:"id"`
}

// WaitReady blocks until the backend answers, with bounded backoff.
func (c *EmailClient) WaitReady(ctx context.Context) error {
	return waitReady(ctx, func(ctx context.Context) error {
		return httpJSON(ctx, c.client, http.MethodGet, c.baseURL+"/health", nil, nil)
	})
}

// EnsureMailbox creates the mailbox if missing; idempotent on the backend.
func (c *EmailClient) EnsureMailbox(ctx context.Context, address, displayName string) error {
	payload := map[string]string{"address": address, "display_name": displayName}
	if err := httpJSON(ctx, c.client, http.MethodPost, c.baseURL+"/mailboxes", payload, nil); err != nil {
		return fmt.Errorf("email: ensure mailbox %s: %w", address, err)
	}
	return nil
}

// SendEmail dispatches one email. The recipient union must be non-empty.
func (c *EmailClient) SendEmail(ctx context.Context, req SendEmailRequest) (SendEmailResponse, error) {
	if len(req.To)+len(req.CC)+len(req.BCC) == 0 {
		return SendEmailResponse{}, fmt.Errorf("email: empty recipient union")
	}
	req.Body = applyFilter(c.filter, req.Body, req.SenderPersonaID, "email")

	var resp SendEmailResponse
	if err := httpJSON(ctx, c.client, http.MethodPost, c.baseURL+"/emails", req, &resp); err != nil {
		return SendEmailResponse{}, fmt.Errorf("email: send from %s: %w", req.Sender, err)
	}
	return resp, nil
}

// DeleteEmailsAfter removes backend rows sent after the cutoff (rewind path).
func (c *EmailClient) DeleteEmailsAfter(ctx context.Context, cutoff time.Time) error {
	u := c.baseURL + "/emails?sent_after=" + url.QueryEscape(cutoff.UTC().Format(time.RFC3339))
	if err := httpJSON(ctx, c.client, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("email: delete after %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// TruncateAll clears the backend store (full reset path).
func (c *EmailClient) TruncateAll(ctx context.Context) error {
	if err := httpJSON(ctx, c.client, http.MethodDelete, c.baseURL+"/emails", nil, nil); err != nil {
		return fmt.Errorf("email: truncate: %w", err)
	}
	return nil
}
