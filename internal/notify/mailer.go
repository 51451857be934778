package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Email is the payload handed to the external email function.
type Email struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Kind    string `json:"kind"`
}

// Mailer delivers email notifications.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// NopMailer discards every email. It is used when email is disabled.
type NopMailer struct{}

func (NopMailer) Send(context.Context, Email) error { return nil }

// webhookMailer posts emails as JSON to a serverless email function.
type webhookMailer struct {
	url    string
	from   string
	client *http.Client
}

// NewWebhookMailer creates a Mailer that POSTs each email to url.
func NewWebhookMailer(url, from string) Mailer {
	return &webhookMailer{
		url:    url,
		from:   from,
		client: &http.Client{},
	}
}

func (m *webhookMailer) Send(ctx context.Context, e Email) error {
	if e.From == "" {
		e.From = m.from
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to email webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email webhook returned status %d", resp.StatusCode)
	}
	return nil
}
