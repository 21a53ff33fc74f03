package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/platform/ratelimit"
)

// Store is the persistence surface the executor needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledAction, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	CreateCallTask(ctx context.Context, a ScheduledAction) error
	RecordCommunication(ctx context.Context, c Communication) error
}

// InvoiceReader re-checks invoice state right before dispatch.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*ar.Invoice, error)
	GetClient(ctx context.Context, id uuid.UUID) (*ar.Client, error)
}

// EmailSender delivers email and returns a provider message ID.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender delivers a text and returns a provider message ID.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// LinkCreator produces a payment URL for an invoice.
type LinkCreator interface {
	PaymentLink(ctx context.Context, inv ar.Invoice, incentive *analyzer.IncentiveOffer) (string, error)
}

// Executor drains due actions in bounded concurrent batches. Every provider
// call is rate limited and capped by the per-call timeout; one action failing
// never aborts the rest of the batch.
type Executor struct {
	cfg     config.EngineConfig
	store   Store
	ar      InvoiceReader
	email   EmailSender
	sms     SMSSender
	links   LinkCreator
	limiter ratelimit.Limiter
	clock   func() time.Time
	log     *slog.Logger
}

// NewExecutor constructs an executor.
func NewExecutor(cfg config.EngineConfig, store Store, reader InvoiceReader, email EmailSender, sms SMSSender, links LinkCreator, limiter ratelimit.Limiter, log *slog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		store:   store,
		ar:      reader,
		email:   email,
		sms:     sms,
		links:   links,
		limiter: limiter,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		log: log,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Run dispatches one batch of due actions.
func (e *Executor) Run(ctx context.Context) (BatchResult, error) {
	now := e.clock()
	due, err := e.store.ListDue(ctx, now, e.cfg.DispatchBatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("outreach: list due: %w", err)
	}
	if len(due) == 0 {
		return BatchResult{}, nil
	}

	var (
		mu     sync.Mutex
		result BatchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.DispatchConcurrency)
	for _, action := range due {
		action := action
		g.Go(func() error {
			ok, failed := e.dispatch(gctx, action, now)
			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			if failed {
				result.Failed++
			} else if ok {
				result.Successful++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	e.log.InfoContext(ctx, "dispatch batch done",
		"processed", result.Processed, "successful", result.Successful, "failed", result.Failed)
	return result, nil
}

// dispatch runs one action end to end. Returns (completed, failed); both
// false means the action was skipped or cancelled.
func (e *Executor) dispatch(ctx context.Context, a ScheduledAction, now time.Time) (bool, bool) {
	claimed, err := e.store.Claim(ctx, a.ID)
	if err != nil {
		e.log.ErrorContext(ctx, "claim action", "action_id", a.ID, "error", err)
		return false, true
	}
	if !claimed {
		return false, false
	}

	// Re-check the invoice: a payment may have landed since scheduling.
	inv, err := e.ar.GetInvoice(ctx, a.InvoiceID)
	if err != nil {
		e.fail(ctx, a, fmt.Errorf("load invoice: %w", err))
		return false, true
	}
	if !inv.IsOpen() {
		_ = e.store.Cancel(ctx, a.ID, "invoice settled")
		return false, false
	}
	if a.Incentive != nil && a.Incentive.Kind == analyzer.IncentiveDiscount && now.After(a.Incentive.ExpiresAt) {
		_ = e.store.Cancel(ctx, a.ID, "incentive expired")
		return false, false
	}

	client, err := e.ar.GetClient(ctx, a.ClientID)
	if err != nil {
		e.fail(ctx, a, fmt.Errorf("load client: %w", err))
		return false, true
	}

	if err := e.send(ctx, a, *inv, *client, now); err != nil {
		e.fail(ctx, a, err)
		return false, true
	}
	if err := e.store.Complete(ctx, a.ID, e.clock()); err != nil {
		e.log.ErrorContext(ctx, "complete action", "action_id", a.ID, "error", err)
		return false, true
	}
	return true, false
}

func (e *Executor) send(ctx context.Context, a ScheduledAction, inv ar.Invoice, client ar.Client, now time.Time) error {
	body := a.Content.Body
	if strings.Contains(body, PaymentLinkPlaceholder) {
		link, err := e.links.PaymentLink(ctx, inv, a.Incentive)
		if err != nil {
			return fmt.Errorf("payment link: %w", err)
		}
		body = strings.ReplaceAll(body, PaymentLinkPlaceholder, link)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderCallTimeout)
	defer cancel()

	var (
		providerID string
		err        error
	)
	switch a.Type {
	case analyzer.ActionSMS:
		providerID, err = e.sms.SendSMS(callCtx, client.Phone, body)
	case analyzer.ActionCall:
		err = e.store.CreateCallTask(callCtx, a)
	default:
		providerID, err = e.email.SendEmail(callCtx, client.Email, a.Content.Subject, body)
	}
	if err != nil {
		return err
	}

	return e.store.RecordCommunication(ctx, Communication{
		ID:         uuid.New(),
		OrgID:      a.OrgID,
		ClientID:   a.ClientID,
		InvoiceID:  a.InvoiceID,
		ActionID:   a.ID,
		Channel:    a.Type,
		ProviderID: providerID,
		SentAt:     now,
	})
}

func (e *Executor) fail(ctx context.Context, a ScheduledAction, err error) {
	e.log.WarnContext(ctx, "action dispatch failed",
		"action_id", a.ID, "invoice_id", a.InvoiceID, "type", a.Type, "error", err)
	if ferr := e.store.Fail(ctx, a.ID, err.Error()); ferr != nil {
		e.log.ErrorContext(ctx, "record failure", "action_id", a.ID, "error", ferr)
	}
}
