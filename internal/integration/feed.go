package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/shared"
)

const feedCallTimeout = 30 * time.Second

// HTTPAccountingFeed pulls settled payments from the accounting provider's
// REST API.
type HTTPAccountingFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAccountingFeed constructs the feed client. An empty base URL yields
// a client that reports not configured on every call.
func NewHTTPAccountingFeed(cfg *config.Config) *HTTPAccountingFeed {
	return &HTTPAccountingFeed{
		baseURL: cfg.AccountingAPIBaseURL,
		httpClient: &http.Client{
			Timeout: feedCallTimeout,
		},
	}
}

type accountingPaymentRecord struct {
	ID        string     `json:"id"`
	InvoiceID *uuid.UUID `json:"invoice_id"`
	Amount    float64    `json:"amount"`
	PaidAt    time.Time  `json:"paid_at"`
}

// ListPayments fetches payments settled since the given time.
func (f *HTTPAccountingFeed) ListPayments(ctx context.Context, token string, orgID uuid.UUID, since time.Time) ([]ExternalPayment, error) {
	if f.baseURL == "" {
		return nil, shared.ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/v1/orgs/%s/payments?since=%s", f.baseURL, orgID, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	var payload struct {
		Payments []accountingPaymentRecord `json:"payments"`
	}
	if err := getJSON(ctx, f.httpClient, endpoint, token, &payload); err != nil {
		return nil, fmt.Errorf("accounting feed: %w", err)
	}
	records := make([]ExternalPayment, 0, len(payload.Payments))
	for _, p := range payload.Payments {
		records = append(records, ExternalPayment{
			ExternalID: p.ID,
			LinkedID:   p.InvoiceID,
			Amount:     p.Amount,
			PaidAt:     p.PaidAt,
		})
	}
	return records, nil
}

// HTTPBankFeed pulls balances and settled transactions from the bank
// aggregator's REST API.
type HTTPBankFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBankFeed constructs the feed client.
func NewHTTPBankFeed(cfg *config.Config) *HTTPBankFeed {
	return &HTTPBankFeed{
		baseURL: cfg.BankAPIBaseURL,
		httpClient: &http.Client{
			Timeout: feedCallTimeout,
		},
	}
}

type bankTransactionRecord struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	PostedAt    time.Time `json:"posted_at"`
	Description string    `json:"description"`
}

// Snapshot fetches the current balance and transactions posted since the
// given time.
func (f *HTTPBankFeed) Snapshot(ctx context.Context, token string, orgID uuid.UUID, since time.Time) (BankSnapshot, error) {
	if f.baseURL == "" {
		return BankSnapshot{}, shared.ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/v1/orgs/%s/transactions?since=%s", f.baseURL, orgID, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	var payload struct {
		Balance      float64                 `json:"balance"`
		AsOf         time.Time               `json:"as_of"`
		Transactions []bankTransactionRecord `json:"transactions"`
	}
	if err := getJSON(ctx, f.httpClient, endpoint, token, &payload); err != nil {
		return BankSnapshot{}, fmt.Errorf("bank feed: %w", err)
	}
	snapshot := BankSnapshot{
		Balance:      payload.Balance,
		AsOf:         payload.AsOf,
		Transactions: make([]BankTransaction, 0, len(payload.Transactions)),
	}
	if snapshot.AsOf.IsZero() {
		snapshot.AsOf = time.Now().UTC()
	}
	for _, t := range payload.Transactions {
		snapshot.Transactions = append(snapshot.Transactions, BankTransaction{
			ExternalID:  t.ID,
			Amount:      t.Amount,
			PostedAt:    t.PostedAt,
			Description: t.Description,
		})
	}
	return snapshot, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, token string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("feed returned status %d: %w", resp.StatusCode, shared.ErrNotConfigured)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
