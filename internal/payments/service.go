package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/outreach"
	"github.com/duepilot/duepilot/internal/scoring"
	"github.com/duepilot/duepilot/internal/shared"
)

// InvoiceStore is the receivables surface the monitor needs.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*ar.Invoice, error)
	ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, newStatus ar.InvoiceStatus) error
	GetClient(ctx context.Context, id uuid.UUID) (*ar.Client, error)
	UpdateClientStats(ctx context.Context, clientID uuid.UUID, stats ar.ClientStats) error
	ListPaidHistory(ctx context.Context, clientID uuid.UUID) ([]scoring.PaidInvoice, error)
}

// ActionLog exposes the completed outreach needed for attribution, plus the
// cancellation hook for settled invoices.
type ActionLog interface {
	ListCompletedSince(ctx context.Context, invoiceID uuid.UUID, since time.Time) ([]outreach.ScheduledAction, error)
	CancelPendingForInvoice(ctx context.Context, invoiceID uuid.UUID, reason string) (int64, error)
}

// PlanCompleter closes plan items when their invoice settles.
type PlanCompleter interface {
	CompleteInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) error
}

// EventStore persists recovery events and billing cycles.
type EventStore interface {
	HasEventNear(ctx context.Context, invoiceID uuid.UUID, amount float64, paidAt time.Time, window time.Duration) (bool, error)
	InsertEvent(ctx context.Context, e *RecoveryEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*RecoveryEvent, error)
	AccrueCycle(ctx context.Context, orgID uuid.UUID, month string, recovered, fee float64) error
}

// Locker serialises payment recording per invoice.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// dedupWindow bounds the same-amount idempotency check around the reported
// payment time.
const dedupWindow = 24 * time.Hour

// Service is the payment monitor: it applies inbound payments, attributes
// them to outreach, accrues success fees into monthly cycles and keeps client
// behavior stats current.
type Service struct {
	cfg      config.EngineConfig
	invoices InvoiceStore
	actions  ActionLog
	plans    PlanCompleter
	events   EventStore
	locker   Locker
	log      *slog.Logger
}

// NewService constructs the payment monitor.
func NewService(cfg config.EngineConfig, invoices InvoiceStore, actions ActionLog, plans PlanCompleter, events EventStore, locker Locker, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		invoices: invoices,
		actions:  actions,
		plans:    plans,
		events:   events,
		locker:   locker,
		log:      log,
	}
}

// RecordPayment processes one payment notice under the per-invoice lock. A
// duplicate notice returns shared.ErrDuplicateEvent with no side effects.
func (s *Service) RecordPayment(ctx context.Context, notice PaymentNotice) (*RecoveryEvent, error) {
	if notice.Amount <= 0 {
		return nil, fmt.Errorf("payments: non-positive amount %.2f", notice.Amount)
	}
	var event *RecoveryEvent
	err := s.locker.WithLock(ctx, shared.InvoiceLockKey(notice.InvoiceID), func(ctx context.Context) error {
		var err error
		event, err = s.record(ctx, notice)
		return err
	})
	return event, err
}

func (s *Service) record(ctx context.Context, notice PaymentNotice) (*RecoveryEvent, error) {
	dup, err := s.events.HasEventNear(ctx, notice.InvoiceID, notice.Amount, notice.PaidAt, dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("payments: dedup check: %w", err)
	}
	if dup {
		return nil, shared.ErrDuplicateEvent
	}

	inv, err := s.invoices.GetInvoice(ctx, notice.InvoiceID)
	if err != nil {
		return nil, err
	}
	if notice.Amount > inv.AmountDue()*(1+ar.OverpaymentTolerance) {
		return nil, shared.ErrOverpayment
	}

	daysOverdue := inv.DaysOverdue(notice.PaidAt)
	attribution, actionID := s.attribute(ctx, notice)

	feePct := 0.0
	if attribution != AttributionOrganic && daysOverdue > 0 {
		feePct = s.cfg.SuccessFeePercent(daysOverdue)
	}

	event := &RecoveryEvent{
		ID:                 uuid.New(),
		OrgID:              notice.OrgID,
		InvoiceID:          inv.ID,
		ClientID:           inv.ClientID,
		PaymentAmount:      notice.Amount,
		PaidAt:             notice.PaidAt,
		DaysOverdue:        daysOverdue,
		Attribution:        attribution,
		AttributedActionID: actionID,
		FeePercent:         feePct,
		FeeAmount:          Fee(notice.Amount, feePct),
		Status:             EventPending,
	}
	if err := s.events.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	settled := inv.AmountPaid+notice.Amount >= inv.Amount-0.005
	newStatus := ar.StatusPartial
	if settled {
		newStatus = ar.StatusPaid
	}
	if err := s.invoices.ApplyPayment(ctx, inv.ID, notice.Amount, newStatus); err != nil {
		return nil, err
	}

	if settled {
		if n, err := s.actions.CancelPendingForInvoice(ctx, inv.ID, "invoice settled"); err != nil {
			s.log.ErrorContext(ctx, "cancel pending actions", "invoice_id", inv.ID, "error", err)
		} else if n > 0 {
			s.log.InfoContext(ctx, "cancelled pending outreach", "invoice_id", inv.ID, "actions", n)
		}
		if err := s.plans.CompleteInvoice(ctx, notice.OrgID, inv.ID); err != nil {
			s.log.ErrorContext(ctx, "complete plan item", "invoice_id", inv.ID, "error", err)
		}
		if err := s.refreshClientStats(ctx, inv.ClientID, notice.PaidAt); err != nil {
			s.log.ErrorContext(ctx, "refresh client stats", "client_id", inv.ClientID, "error", err)
		}
	}

	if err := s.events.AccrueCycle(ctx, notice.OrgID, CycleMonth(notice.PaidAt), notice.Amount, event.FeeAmount); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment recorded",
		"invoice_id", inv.ID, "amount", notice.Amount, "source", notice.Source,
		"attribution", attribution, "fee", event.FeeAmount, "settled", settled)
	return event, nil
}

// attribute credits the payment to the most recent completed outreach. The
// lookup reaches back twice the attribution window so contacts past the
// partial cutoff still register, at low confidence. No outreach means
// organic.
func (s *Service) attribute(ctx context.Context, notice PaymentNotice) (Attribution, *uuid.UUID) {
	since := notice.PaidAt.AddDate(0, 0, -2*s.cfg.AttributionWindowDays)
	actions, err := s.actions.ListCompletedSince(ctx, notice.InvoiceID, since)
	if err != nil {
		s.log.ErrorContext(ctx, "attribution lookup", "invoice_id", notice.InvoiceID, "error", err)
		return AttributionOrganic, nil
	}
	if len(actions) == 0 {
		return AttributionOrganic, nil
	}
	latest := actions[0]
	age := notice.PaidAt.Sub(*latest.CompletedAt)
	switch {
	case age <= 7*24*time.Hour:
		return AttributionFull, &latest.ID
	case age <= time.Duration(s.cfg.AttributionWindowDays)*24*time.Hour:
		return AttributionPartial, &latest.ID
	default:
		return AttributionLow, &latest.ID
	}
}

// refreshClientStats recomputes the client's behavioral fields from the full
// paid history and learns the contact slot from when the payment landed.
func (s *Service) refreshClientStats(ctx context.Context, clientID uuid.UUID, paidAt time.Time) error {
	history, err := s.invoices.ListPaidHistory(ctx, clientID)
	if err != nil {
		return err
	}
	score, avgDays := scoring.FromHistory(history)
	day := paidAt.UTC().Weekday()
	hour := paidAt.UTC().Hour()
	return s.invoices.UpdateClientStats(ctx, clientID, ar.ClientStats{
		PaymentScore:    score,
		Tier:            scoring.TierForScore(score),
		AvgDaysToPay:    avgDays,
		BestContactDay:  &day,
		BestContactHour: &hour,
	})
}

// Reverse inserts a compensating event for a mistaken recovery, backing its
// amounts out of the billing cycle. The original event is left untouched.
func (s *Service) Reverse(ctx context.Context, eventID uuid.UUID, reason string) (*RecoveryEvent, error) {
	orig, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if orig.CompensatesEventID != nil {
		return nil, fmt.Errorf("payments: cannot reverse a compensating event")
	}
	comp := &RecoveryEvent{
		ID:                 uuid.New(),
		OrgID:              orig.OrgID,
		InvoiceID:          orig.InvoiceID,
		ClientID:           orig.ClientID,
		PaymentAmount:      -orig.PaymentAmount,
		PaidAt:             orig.PaidAt,
		DaysOverdue:        orig.DaysOverdue,
		Attribution:        orig.Attribution,
		AttributedActionID: orig.AttributedActionID,
		FeePercent:         orig.FeePercent,
		FeeAmount:          -orig.FeeAmount,
		Status:             EventPending,
		CompensatesEventID: &orig.ID,
	}
	if err := s.events.InsertEvent(ctx, comp); err != nil {
		return nil, err
	}
	if err := s.events.AccrueCycle(ctx, orig.OrgID, CycleMonth(orig.PaidAt), comp.PaymentAmount, comp.FeeAmount); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "recovery event reversed",
		"event_id", orig.ID, "compensating_id", comp.ID, "reason", reason)
	return comp, nil
}
