package integration

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/shared"
)

// TokenSource yields a bearer token for feed calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// OAuthTokenSource fetches machine tokens via the client-credentials grant.
// A transient failure is retried once before surfacing, at which point the
// syncer marks the integration expired.
type OAuthTokenSource struct {
	conf *clientcredentials.Config
}

// NewAccountingTokenSource builds the token source for the accounting feed.
func NewAccountingTokenSource(cfg *config.Config) *OAuthTokenSource {
	return newTokenSource(cfg.AccountingTokenURL, cfg.AccountingClientID, cfg.AccountingClientSecret)
}

// NewBankTokenSource builds the token source for the bank feed.
func NewBankTokenSource(cfg *config.Config) *OAuthTokenSource {
	return newTokenSource(cfg.BankTokenURL, cfg.BankClientID, cfg.BankClientSecret)
}

func newTokenSource(tokenURL, clientID, clientSecret string) *OAuthTokenSource {
	if tokenURL == "" || clientID == "" {
		return &OAuthTokenSource{}
	}
	return &OAuthTokenSource{conf: &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}}
}

// Token returns a fresh access token, retrying one transient failure.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	if s.conf == nil {
		return "", shared.ErrNotConfigured
	}
	tok, err := s.conf.Token(ctx)
	if err != nil {
		tok, err = s.conf.Token(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("integration: token: %w", err)
	}
	return tok.AccessToken, nil
}
