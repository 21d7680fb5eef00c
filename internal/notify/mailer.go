package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/momo/internal/retry"
)

// MailerConfig points at the external mail API.
type MailerConfig struct {
	Endpoint    string
	APIKey      string
	From        string
	FrontendURL string
}

// Mailer renders and sends notification emails through an HTTP mail API.
// Transient API failures are retried with backoff.
type Mailer struct {
	cfg    MailerConfig
	client *http.Client
	retry  retry.Config
}

// NewMailer creates a mailer.
func NewMailer(cfg MailerConfig) *Mailer {
	return &Mailer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  retry.MailerConfig(),
	}
}

type mailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Send renders the event into an email and delivers it.
func (m *Mailer) Send(ctx context.Context, to, eventType string, payload map[string]any) error {
	subject, htmlBody := m.render(eventType, payload)

	body, err := json.Marshal(mailRequest{
		From:    m.cfg.From,
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	return retry.Do(ctx, m.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("mail API returned %d: %s", resp.StatusCode, detail)
		}
		return nil
	})
}

func (m *Mailer) render(eventType string, payload map[string]any) (subject, body string) {
	link := m.cfg.FrontendURL

	switch eventType {
	case "question_received":
		subject = "Someone asked you a question"
		link = fmt.Sprintf("%s/questions/%v", m.cfg.FrontendURL, payload["question_id"])
	case "question_answered":
		subject = "Your question was answered"
		link = fmt.Sprintf("%s/questions/%v", m.cfg.FrontendURL, payload["question_id"])
	case "bottle_replied":
		subject = "Your bottle got a reply"
		link = fmt.Sprintf("%s/bottles/%v", m.cfg.FrontendURL, payload["bottle_id"])
	default:
		subject = "You have a new message"
	}

	content, _ := payload["content"].(string)
	body = fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>%s</h2>
  <div style="background: #f5f5f5; padding: 20px; border-radius: 10px; margin: 20px 0;">
    <p>%s</p>
  </div>
  <a href="%s" style="background: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">View conversation</a>
</div>`, subject, html.EscapeString(content), link)
	return subject, body
}
