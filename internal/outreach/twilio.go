package outreach

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/shared"
)

// TwilioSMS sends collection texts through Twilio.
type TwilioSMS struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSMS constructs the adapter from app config. Missing credentials
// leave it unconfigured.
func NewTwilioSMS(cfg *config.Config) *TwilioSMS {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return &TwilioSMS{}
	}
	return &TwilioSMS{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		}),
		from: cfg.TwilioFromNumber,
	}
}

// SendSMS delivers one text and returns the provider message SID.
func (t *TwilioSMS) SendSMS(_ context.Context, to, body string) (string, error) {
	if t.client == nil {
		return "", shared.ErrNotConfigured
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("outreach: twilio: %w", err)
	}
	if resp.Sid != nil {
		return *resp.Sid, nil
	}
	return "", nil
}
