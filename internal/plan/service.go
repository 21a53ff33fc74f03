package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/cashflow"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/outreach"
)

// InvoiceSource reads receivables for analysis.
type InvoiceSource interface {
	ListOpenInvoicesWithClients(ctx context.Context, orgID uuid.UUID) ([]ar.InvoiceWithClient, error)
	ListInvoicesDueBetween(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ar.Invoice, error)
}

// ContactLog exposes when each invoice was last successfully contacted, so
// generated schedules respect the minimum contact interval.
type ContactLog interface {
	LastCompletedContacts(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]time.Time, error)
}

// CashSource provides the organization's cash position for squeeze detection.
type CashSource interface {
	Position(ctx context.Context, orgID uuid.UUID, historyDays int) (cashflow.Position, error)
}

// ActionScheduler persists materialised outreach actions.
type ActionScheduler interface {
	Schedule(ctx context.Context, actions []outreach.ScheduledAction) error
}

// Store is the plan persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, p *ActionPlan) error
	Get(ctx context.Context, id uuid.UUID) (*ActionPlan, error)
	GetPending(ctx context.Context, orgID uuid.UUID) (*ActionPlan, error)
	SupersedePending(ctx context.Context, orgID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	SetItemStates(ctx context.Context, planID uuid.UUID, invoiceIDs []uuid.UUID, state ItemState) error
}

// Service generates plans from analysis output and turns approvals into
// scheduled actions. Nothing is dispatched before approval.
type Service struct {
	cfg       config.EngineConfig
	store     Store
	invoices  InvoiceSource
	contacts  ContactLog
	cash      CashSource
	scheduler ActionScheduler
	analyzer  *analyzer.Analyzer
	detector  *cashflow.Detector
	clock     func() time.Time
	log       *slog.Logger
}

// NewService constructs the plan service.
func NewService(cfg config.EngineConfig, store Store, invoices InvoiceSource, contacts ContactLog, cash CashSource, scheduler ActionScheduler, log *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		invoices:  invoices,
		contacts:  contacts,
		cash:      cash,
		scheduler: scheduler,
		analyzer:  analyzer.New(cfg),
		detector:  cashflow.New(cfg),
		clock: func() time.Time {
			return time.Now().UTC()
		},
		log: log,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	s.analyzer = s.analyzer.WithClock(clock)
	return s
}

// Generate analyses the organization's book, detects cash-squeeze risk and
// stores a fresh pending plan. An earlier pending plan is superseded. Returns
// nil when nothing needs attention.
func (s *Service) Generate(ctx context.Context, orgID uuid.UUID) (*ActionPlan, error) {
	now := s.clock()

	pairs, err := s.invoices.ListOpenInvoicesWithClients(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("plan: list open invoices: %w", err)
	}
	lastContact, err := s.contacts.LastCompletedContacts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("plan: last contacts: %w", err)
	}

	analyses := s.analyzer.Analyze(analyzer.Input{Invoices: pairs, LastContact: lastContact})
	var selected []analyzer.InvoiceAnalysis
	for _, a := range analyses {
		if a.DaysOverdue > 0 || a.UrgencyScore > s.cfg.UrgencyPlanFloor {
			selected = append(selected, a)
		}
	}

	upcoming, err := s.invoices.ListInvoicesDueBetween(ctx, orgID, now, now.AddDate(0, 0, s.cfg.ForwardWindowDays))
	if err != nil {
		return nil, fmt.Errorf("plan: list upcoming invoices: %w", err)
	}
	pos, err := s.cash.Position(ctx, orgID, s.cfg.SpendHistoryDays)
	if err != nil {
		return nil, fmt.Errorf("plan: cash position: %w", err)
	}
	alerts := s.detector.Detect(upcoming, pos)

	if len(selected) == 0 && len(alerts) == 0 {
		s.log.InfoContext(ctx, "nothing to plan", "org_id", orgID)
		return nil, nil
	}

	p := &ActionPlan{
		ID:     uuid.New(),
		OrgID:  orgID,
		Status: StatusPendingApproval,
		Snapshot: Snapshot{
			Version:     SnapshotVersion,
			GeneratedAt: now,
			Analyses:    selected,
			Alerts:      alerts,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, a := range selected {
		p.Items = append(p.Items, Item{InvoiceID: a.InvoiceID, State: ItemPending})
		p.TotalAmountAtRisk += a.AmountDue
		recovery := a.AmountDue * a.RecoveryLikelihood
		p.ProjectedRecovery += recovery
		p.ProjectedSuccessFee += recovery * s.cfg.SuccessFeePercent(a.DaysOverdue)
	}

	if err := s.store.SupersedePending(ctx, orgID); err != nil {
		return nil, fmt.Errorf("plan: supersede pending: %w", err)
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("plan: create: %w", err)
	}
	s.log.InfoContext(ctx, "plan generated",
		"org_id", orgID, "plan_id", p.ID,
		"invoices", len(p.Items), "alerts", len(alerts),
		"at_risk", p.TotalAmountAtRisk)
	return p, nil
}

// Pending returns the organization's plan awaiting approval.
func (s *Service) Pending(ctx context.Context, orgID uuid.UUID) (*ActionPlan, error) {
	return s.store.GetPending(ctx, orgID)
}

// Approve materialises the recommendations for the selected invoices into
// scheduled actions. An empty selection approves every pending item; a subset
// leaves the rest pending so the owner can approve them later.
func (s *Service) Approve(ctx context.Context, planID uuid.UUID, invoiceIDs []uuid.UUID) (*ActionPlan, error) {
	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPendingApproval && p.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: cannot approve a %s plan", ErrInvalidTransition, p.Status)
	}

	if len(invoiceIDs) == 0 {
		invoiceIDs = p.PendingItems()
	}

	now := s.clock()
	var actions []outreach.ScheduledAction
	var approved []uuid.UUID
	for _, invoiceID := range invoiceIDs {
		item, ok := p.Item(invoiceID)
		if !ok || item.State != ItemPending {
			continue
		}
		analysis, ok := p.Snapshot.Analysis(invoiceID)
		if !ok {
			continue
		}
		actions = append(actions, materialize(p, analysis, now)...)
		approved = append(approved, invoiceID)
	}
	if len(approved) == 0 {
		return nil, fmt.Errorf("%w: no pending items selected", ErrInvalidTransition)
	}

	if err := s.scheduler.Schedule(ctx, actions); err != nil {
		return nil, fmt.Errorf("plan: schedule actions: %w", err)
	}
	if err := s.store.SetItemStates(ctx, planID, approved, ItemInProgress); err != nil {
		return nil, fmt.Errorf("plan: mark items: %w", err)
	}
	if p.Status == StatusPendingApproval {
		if err := s.store.UpdateStatus(ctx, planID, StatusPendingApproval, StatusInProgress); err != nil {
			return nil, err
		}
	}
	s.log.InfoContext(ctx, "plan approved",
		"plan_id", planID, "invoices", len(approved), "actions", len(actions))
	return s.store.Get(ctx, planID)
}

// Reject discards a pending plan without scheduling anything.
func (s *Service) Reject(ctx context.Context, planID uuid.UUID) error {
	if err := s.store.UpdateStatus(ctx, planID, StatusPendingApproval, StatusRejected); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "plan rejected", "plan_id", planID)
	return nil
}

// materialize turns one invoice's recommendations into scheduled actions with
// rendered copy. The payment-link placeholder stays in the body until
// dispatch resolves the real link.
func materialize(p *ActionPlan, analysis analyzer.InvoiceAnalysis, now time.Time) []outreach.ScheduledAction {
	actions := make([]outreach.ScheduledAction, 0, len(analysis.Actions))
	for _, rec := range analysis.Actions {
		content := outreach.Render(outreach.RenderInput{
			ClientName:    analysis.ClientName,
			InvoiceNumber: analysis.InvoiceNumber,
			AmountDue:     analysis.AmountDue,
			DaysOverdue:   analysis.DaysOverdue,
			Type:          rec.Type,
			Incentive:     rec.Incentive,
		})
		actions = append(actions, outreach.ScheduledAction{
			ID:           uuid.New(),
			OrgID:        p.OrgID,
			PlanID:       p.ID,
			InvoiceID:    analysis.InvoiceID,
			ClientID:     analysis.ClientID,
			Type:         rec.Type,
			Status:       outreach.ActionScheduled,
			ScheduledFor: rec.ScheduledFor,
			Content:      content,
			Incentive:    rec.Incentive,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return actions
}
