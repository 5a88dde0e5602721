package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

// Client sends transactional email through Postmark.
type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a client. baseURL is the app URL invitation links
// point at.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// InvitationLink returns the link an invitee follows to accept.
func (c *Client) InvitationLink(token string) string {
	return fmt.Sprintf("%s/invite?token=%s", c.baseURL, url.QueryEscape(token))
}

// SendInvitation emails a family invitation to toEmail.
func (c *Client) SendInvitation(ctx context.Context, toEmail, token, familyName, inviterName string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	inviter := inviterName
	if inviter == "" {
		inviter = "A family member"
	}
	link := c.InvitationLink(token)
	subject := fmt.Sprintf("You've been invited to join %s on OrderlyFlow", familyName)
	textBody := fmt.Sprintf(
		"%s invited you to join the %s family account on OrderlyFlow.\n\nAccept the invitation:\n\n%s\n\nThis invitation expires in 7 days.",
		inviter, familyName, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s invited you to join the <strong>%s</strong> family account on OrderlyFlow.</p><p><a href="%s">Accept the invitation</a></p><p>This invitation expires in 7 days.</p>`,
		html.EscapeString(inviter), html.EscapeString(familyName), html.EscapeString(link),
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "family-invitation",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
