package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/payments"
	"github.com/duepilot/duepilot/internal/shared"
)

// amountTolerance is how far a fallback amount match may drift, in currency
// units. Linked matches ignore it.
const amountTolerance = 0.01

// AccountingFeed lists payment records from the external accounting system.
type AccountingFeed interface {
	ListPayments(ctx context.Context, token string, orgID uuid.UUID, since time.Time) ([]ExternalPayment, error)
}

// InvoiceMatcher resolves external records to invoices.
type InvoiceMatcher interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*ar.Invoice, error)
	FindOpenInvoiceByAmount(ctx context.Context, orgID uuid.UUID, amount, tolerance float64) (*ar.Invoice, error)
}

// PaymentRecorder feeds matched payments into the payment monitor.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, notice payments.PaymentNotice) (*payments.RecoveryEvent, error)
}

// Store is the integration persistence surface the syncers need.
type Store interface {
	Get(ctx context.Context, orgID uuid.UUID, kind Kind) (*Integration, error)
	MarkStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) error
	RecordSync(ctx context.Context, id uuid.UUID, at time.Time) error
	WasProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error)
	MarkProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error)
	UpsertDailyCash(ctx context.Context, orgID uuid.UUID, day time.Time, balance, outflow float64) error
}

// AccountingSyncer pulls settled payments from the accounting system and runs
// them through the payment monitor. One bad record never aborts the run.
type AccountingSyncer struct {
	store    Store
	tokens   TokenSource
	feed     AccountingFeed
	invoices InvoiceMatcher
	recorder PaymentRecorder
	clock    func() time.Time
	log      *slog.Logger
}

// NewAccountingSyncer constructs the syncer.
func NewAccountingSyncer(store Store, tokens TokenSource, feed AccountingFeed, invoices InvoiceMatcher, recorder PaymentRecorder, log *slog.Logger) *AccountingSyncer {
	return &AccountingSyncer{
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
func (s *AccountingSyncer) WithClock(clock func() time.Time) *AccountingSyncer {
	s.clock = clock
	return s
}

// Sync runs one pull for the organization.
func (s *AccountingSyncer) Sync(ctx context.Context, orgID uuid.UUID) (SyncResult, error) {
	var result SyncResult
	in, err := s.store.Get(ctx, orgID, KindAccounting)
	if err != nil {
		return result, err
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		_ = s.store.MarkStatus(ctx, in.ID, StatusExpired, err.Error())
		return result, fmt.Errorf("integration: accounting token for org %s: %w", orgID, err)
	}

	records, err := s.feed.ListPayments(ctx, token, orgID, in.LastSyncAt)
	if err != nil {
		_ = s.store.MarkStatus(ctx, in.ID, StatusError, err.Error())
		return result, fmt.Errorf("integration: accounting feed for org %s: %w", orgID, err)
	}

	for _, record := range records {
		result.Fetched++
		seen, err := s.store.WasProcessed(ctx, in.ID, record.ExternalID)
		if err != nil {
			result.Failed++
			s.log.ErrorContext(ctx, "check processed", "external_id", record.ExternalID, "error", err)
			continue
		}
		if seen {
			result.Skipped++
			continue
		}

		inv, err := s.resolve(ctx, orgID, record)
		if err != nil {
			// Left out of the ledger: the invoice may exist on a later pass.
			result.Skipped++
			s.log.WarnContext(ctx, "accounting record unmatched",
				"external_id", record.ExternalID, "amount", record.Amount, "error", err)
			continue
		}

		_, err = s.recorder.RecordPayment(ctx, payments.PaymentNotice{
			OrgID:     orgID,
			InvoiceID: inv.ID,
			Amount:    record.Amount,
			PaidAt:    record.PaidAt,
			Source:    string(KindAccounting),
			Reference: record.ExternalID,
		})
		switch {
		case errors.Is(err, shared.ErrDuplicateEvent):
			result.Skipped++
			s.markProcessed(ctx, in.ID, record.ExternalID)
		case err != nil:
			// Not marked processed: the next pass retries it, and the payment
			// monitor's idempotency window makes the retry safe.
			result.Failed++
			s.log.ErrorContext(ctx, "record accounting payment",
				"external_id", record.ExternalID, "invoice_id", inv.ID, "error", err)
		default:
			result.Recorded++
			s.markProcessed(ctx, in.ID, record.ExternalID)
		}
	}

	if result.Failed > 0 {
		// Keep the watermark so the failed records are refetched next pass.
		_ = s.store.MarkStatus(ctx, in.ID, StatusConnected, fmt.Sprintf("%d records failed", result.Failed))
		s.log.WarnContext(ctx, "accounting sync kept watermark",
			"org_id", orgID, "failed", result.Failed)
		return result, nil
	}
	if err := s.store.RecordSync(ctx, in.ID, s.clock()); err != nil {
		return result, err
	}
	s.log.InfoContext(ctx, "accounting sync done",
		"org_id", orgID, "fetched", result.Fetched, "recorded", result.Recorded,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// markProcessed adds the record to the ledger. A failure here is logged, not
// fatal: at worst the record is re-run and deduplicated by the monitor.
func (s *AccountingSyncer) markProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) {
	if _, err := s.store.MarkProcessed(ctx, integrationID, externalID); err != nil {
		s.log.ErrorContext(ctx, "mark processed", "external_id", externalID, "error", err)
	}
}

// resolve prefers the external system's own invoice link and falls back to an
// unambiguous amount match.
func (s *AccountingSyncer) resolve(ctx context.Context, orgID uuid.UUID, record ExternalPayment) (*ar.Invoice, error) {
	if record.LinkedID != nil {
		return s.invoices.GetInvoice(ctx, *record.LinkedID)
	}
	return s.invoices.FindOpenInvoiceByAmount(ctx, orgID, record.Amount, amountTolerance)
}
