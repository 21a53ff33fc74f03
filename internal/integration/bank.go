package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/payments"
	"github.com/duepilot/duepilot/internal/shared"
)

// BankFeed returns the account snapshot since the last sync.
type BankFeed interface {
	Snapshot(ctx context.Context, token string, orgID uuid.UUID, since time.Time) (BankSnapshot, error)
}

// BankSyncer pulls bank movements. Credits are matched to open invoices and
// recorded as payments; debits feed the daily outflow series the cash-squeeze
// detector reads.
type BankSyncer struct {
	store    Store
	tokens   TokenSource
	feed     BankFeed
	invoices InvoiceMatcher
	recorder PaymentRecorder
	clock    func() time.Time
	log      *slog.Logger
}

// NewBankSyncer constructs the syncer.
func NewBankSyncer(store Store, tokens TokenSource, feed BankFeed, invoices InvoiceMatcher, recorder PaymentRecorder, log *slog.Logger) *BankSyncer {
	return &BankSyncer{
		store:    store,
		tokens:   tokens,
		feed:     feed,
		invoices: invoices,
		recorder: recorder,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		log: log,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (s *BankSyncer) WithClock(clock func() time.Time) *BankSyncer {
	s.clock = clock
	return s
}

// Sync runs one pull for the organization.
func (s *BankSyncer) Sync(ctx context.Context, orgID uuid.UUID) (SyncResult, error) {
	var result SyncResult
	in, err := s.store.Get(ctx, orgID, KindBank)
	if err != nil {
		return result, err
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		_ = s.store.MarkStatus(ctx, in.ID, StatusExpired, err.Error())
		return result, fmt.Errorf("integration: bank token for org %s: %w", orgID, err)
	}

	snapshot, err := s.feed.Snapshot(ctx, token, orgID, in.LastSyncAt)
	if err != nil {
		_ = s.store.MarkStatus(ctx, in.ID, StatusError, err.Error())
		return result, fmt.Errorf("integration: bank feed for org %s: %w", orgID, err)
	}

	outflowByDay := make(map[time.Time]float64)
	for _, txn := range snapshot.Transactions {
		result.Fetched++
		seen, err := s.store.WasProcessed(ctx, in.ID, txn.ExternalID)
		if err != nil {
			result.Failed++
			s.log.ErrorContext(ctx, "check processed", "external_id", txn.ExternalID, "error", err)
			continue
		}
		if seen {
			result.Skipped++
			continue
		}

		if txn.Amount <= 0 {
			day := txn.PostedAt.UTC().Truncate(24 * time.Hour)
			outflowByDay[day] += -txn.Amount
			result.Recorded++
			s.markProcessed(ctx, in.ID, txn.ExternalID)
			continue
		}
		s.recordCredit(ctx, in.ID, orgID, txn, &result)
	}

	for day, outflow := range outflowByDay {
		if err := s.store.UpsertDailyCash(ctx, orgID, day, snapshot.Balance, outflow); err != nil {
			s.log.ErrorContext(ctx, "upsert daily cash", "org_id", orgID, "day", day, "error", err)
		}
	}
	// Keep the balance current even on quiet days.
	if len(outflowByDay) == 0 {
		if err := s.store.UpsertDailyCash(ctx, orgID, snapshot.AsOf, snapshot.Balance, 0); err != nil {
			s.log.ErrorContext(ctx, "upsert daily cash", "org_id", orgID, "error", err)
		}
	}

	if result.Failed > 0 {
		// Keep the watermark so the failed transactions are refetched next
		// pass.
		_ = s.store.MarkStatus(ctx, in.ID, StatusConnected, fmt.Sprintf("%d transactions failed", result.Failed))
		s.log.WarnContext(ctx, "bank sync kept watermark",
			"org_id", orgID, "failed", result.Failed)
		return result, nil
	}
	if err := s.store.RecordSync(ctx, in.ID, s.clock()); err != nil {
		return result, err
	}
	s.log.InfoContext(ctx, "bank sync done",
		"org_id", orgID, "fetched", result.Fetched, "recorded", result.Recorded,
		"skipped", result.Skipped, "failed", result.Failed, "balance", snapshot.Balance)
	return result, nil
}

// recordCredit matches an inbound transfer to a single open invoice by
// amount. Unmatched credits are skipped and ledgered; a client paying outside
// the system is not an error. A transient recording failure leaves the
// transaction out of the ledger so the next pass retries it.
func (s *BankSyncer) recordCredit(ctx context.Context, integrationID, orgID uuid.UUID, txn BankTransaction, result *SyncResult) {
	inv, err := s.invoices.FindOpenInvoiceByAmount(ctx, orgID, txn.Amount, amountTolerance)
	if err != nil {
		result.Skipped++
		s.markProcessed(ctx, integrationID, txn.ExternalID)
		s.log.InfoContext(ctx, "bank credit unmatched",
			"external_id", txn.ExternalID, "amount", txn.Amount)
		return
	}

	_, err = s.recorder.RecordPayment(ctx, payments.PaymentNotice{
		OrgID:     orgID,
		InvoiceID: inv.ID,
		Amount:    txn.Amount,
		PaidAt:    txn.PostedAt,
		Source:    string(KindBank),
		Reference: txn.ExternalID,
	})
	switch {
	case errors.Is(err, shared.ErrDuplicateEvent):
		result.Skipped++
		s.markProcessed(ctx, integrationID, txn.ExternalID)
	case err != nil:
		result.Failed++
		s.log.ErrorContext(ctx, "record bank payment",
			"external_id", txn.ExternalID, "invoice_id", inv.ID, "error", err)
	default:
		result.Recorded++
		s.markProcessed(ctx, integrationID, txn.ExternalID)
	}
}

func (s *BankSyncer) markProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) {
	if _, err := s.store.MarkProcessed(ctx, integrationID, externalID); err != nil {
		s.log.ErrorContext(ctx, "mark processed", "external_id", externalID, "error", err)
	}
}
