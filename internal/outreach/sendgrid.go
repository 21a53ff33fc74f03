package outreach

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/shared"
)

// SendgridEmail sends collection emails through SendGrid.
type SendgridEmail struct {
	apiKey   string
	from     string
	fromName string
}

// NewSendgridEmail constructs the adapter from app config. An empty API key
// leaves the adapter unconfigured; sends then fail with ErrNotConfigured so
// the action records a clear failure instead of silently dropping.
func NewSendgridEmail(cfg *config.Config) *SendgridEmail {
	return &SendgridEmail{
		apiKey:   cfg.SendgridAPIKey,
		from:     cfg.EmailFrom,
		fromName: cfg.EmailFromName,
	}
}

// SendEmail delivers one message and returns the provider message ID.
func (s *SendgridEmail) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if s.apiKey == "" {
		return "", shared.ErrNotConfigured
	}
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail("", to),
		body,
		"",
	)
	resp, err := sendgrid.NewSendClient(s.apiKey).SendWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("outreach: sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("outreach: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
