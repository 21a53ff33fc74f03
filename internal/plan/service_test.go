package plan

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/cashflow"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/outreach"
)

var planNow = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	plans map[uuid.UUID]*ActionPlan
}

func newFakeStore() *fakeStore {
	return &fakeStore{plans: map[uuid.UUID]*ActionPlan{}}
}

func (s *fakeStore) snapshot(p *ActionPlan) *ActionPlan {
	cp := *p
	cp.Items = append([]Item(nil), p.Items...)
	return &cp
}

func (s *fakeStore) Create(_ context.Context, p *ActionPlan) error {
	s.plans[p.ID] = s.snapshot(p)
	return nil
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (*ActionPlan, error) {
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshot(p), nil
}

func (s *fakeStore) GetPending(_ context.Context, orgID uuid.UUID) (*ActionPlan, error) {
	for _, p := range s.plans {
		if p.OrgID == orgID && p.Status == StatusPendingApproval {
			return s.snapshot(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) SupersedePending(_ context.Context, orgID uuid.UUID) error {
	for _, p := range s.plans {
		if p.OrgID == orgID && p.Status == StatusPendingApproval {
			p.Status = StatusSuperseded
		}
	}
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	p, ok := s.plans[id]
	if !ok || p.Status != from {
		return ErrInvalidTransition
	}
	p.Status = to
	return nil
}

func (s *fakeStore) SetItemStates(_ context.Context, planID uuid.UUID, invoiceIDs []uuid.UUID, state ItemState) error {
	p, ok := s.plans[planID]
	if !ok {
		return ErrNotFound
	}
	for i := range p.Items {
		for _, id := range invoiceIDs {
			if p.Items[i].InvoiceID == id {
				p.Items[i].State = state
			}
		}
	}
	return nil
}

type fakeInvoices struct {
	open []ar.InvoiceWithClient
	due  []ar.Invoice
}

func (f *fakeInvoices) ListOpenInvoicesWithClients(context.Context, uuid.UUID) ([]ar.InvoiceWithClient, error) {
	return f.open, nil
}

func (f *fakeInvoices) ListInvoicesDueBetween(context.Context, uuid.UUID, time.Time, time.Time) ([]ar.Invoice, error) {
	return f.due, nil
}

type fakeContacts struct {
	last map[uuid.UUID]time.Time
}

func (f *fakeContacts) LastCompletedContacts(context.Context, uuid.UUID) (map[uuid.UUID]time.Time, error) {
	return f.last, nil
}

type fakeCash struct {
	pos cashflow.Position
}

func (f *fakeCash) Position(context.Context, uuid.UUID, int) (cashflow.Position, error) {
	return f.pos, nil
}

type fakeScheduler struct {
	scheduled []outreach.ScheduledAction
}

func (f *fakeScheduler) Schedule(_ context.Context, actions []outreach.ScheduledAction) error {
	f.scheduled = append(f.scheduled, actions...)
	return nil
}

func planEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinDaysBetweenContacts: 3,
		UrgencyPlanFloor:       20,
		LargeAmountThreshold:   5000,
		HugeAmountThreshold:    15000,
		ForwardWindowDays:      30,
		SpendHistoryDays:       90,
		MinimumRunwayDays:      14,
		RevenueGapDays:         14,
		RevenueGapCritical:     21,
		FeeTier30:              0.05,
		FeeTier60:              0.075,
		FeeTier90:              0.10,
		FeeTierMax:             0.125,
	}
}

func newTestService(store Store, inv *fakeInvoices, sched *fakeScheduler) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cash := &fakeCash{pos: cashflow.Position{CurrentBalance: 1e6, AsOf: planNow}}
	return NewService(planEngineConfig(), store, inv, &fakeContacts{}, cash, sched, log).
		WithClock(func() time.Time { return planNow })
}

func overduePair(amount float64, daysOverdue, score int) ar.InvoiceWithClient {
	return ar.InvoiceWithClient{
		Invoice: ar.Invoice{
			ID:       uuid.New(),
			OrgID:    uuid.New(),
			ClientID: uuid.New(),
			Number:   "INV-200",
			Amount:   amount,
			Status:   ar.StatusOverdue,
			DueAt:    planNow.AddDate(0, 0, -daysOverdue),
		},
		Client: ar.Client{Name: "Acme Ltd", PaymentScore: score},
	}
}

func TestGenerateFiltersQuietInvoices(t *testing.T) {
	hot := overduePair(1000, 10, 80)
	quiet := overduePair(1000, 0, 80)
	quiet.Invoice.Status = ar.StatusSent
	quiet.Invoice.DueAt = planNow.AddDate(0, 0, 10)

	store := newFakeStore()
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{hot, quiet}}, &fakeScheduler{})

	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, StatusPendingApproval, p.Status)
	require.Len(t, p.Items, 1)
	require.Equal(t, hot.Invoice.ID, p.Items[0].InvoiceID)
	require.Equal(t, ItemPending, p.Items[0].State)

	// Cached totals: 0.20 + 0.008*80 - 0.006*10 = 0.78 likelihood, 5% tier.
	require.InDelta(t, 1000, p.TotalAmountAtRisk, 1e-9)
	require.InDelta(t, 780, p.ProjectedRecovery, 1e-9)
	require.InDelta(t, 39, p.ProjectedSuccessFee, 1e-9)
}

func TestGenerateReturnsNilWhenNothingToPlan(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeInvoices{}, &fakeScheduler{})
	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestGenerateSupersedesPendingPlan(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{overduePair(1000, 10, 80)}}, &fakeScheduler{})
	orgID := uuid.New()

	first, err := svc.Generate(context.Background(), orgID)
	require.NoError(t, err)
	second, err := svc.Generate(context.Background(), orgID)
	require.NoError(t, err)

	stale, err := store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuperseded, stale.Status)

	pending, err := store.GetPending(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, second.ID, pending.ID)
}

func TestApproveAllMaterializesActions(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{overduePair(1000, 10, 80)}}, sched)

	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), p.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, approved.Status)
	for _, item := range approved.Items {
		require.Equal(t, ItemInProgress, item.State)
	}

	// 10 days overdue yields an email and a payment link.
	require.Len(t, sched.scheduled, 2)
	for _, action := range sched.scheduled {
		require.Equal(t, p.ID, action.PlanID)
		require.Equal(t, outreach.ActionScheduled, action.Status)
		require.False(t, action.ScheduledFor.IsZero())
		require.True(t, strings.Contains(action.Content.Body, outreach.PaymentLinkPlaceholder))
		require.Equal(t, outreach.ToneReminder, action.Content.Tone)
	}
}

func TestPartialApprovalLeavesRestPending(t *testing.T) {
	a := overduePair(1000, 10, 80)
	b := overduePair(2000, 30, 60)
	store := newFakeStore()
	sched := &fakeScheduler{}
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{a, b}}, sched)

	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, p.Items, 2)

	partial, err := svc.Approve(context.Background(), p.ID, []uuid.UUID{a.Invoice.ID})
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, partial.Status)

	itemA, _ := partial.Item(a.Invoice.ID)
	itemB, _ := partial.Item(b.Invoice.ID)
	require.Equal(t, ItemInProgress, itemA.State)
	require.Equal(t, ItemPending, itemB.State)
	for _, action := range sched.scheduled {
		require.Equal(t, a.Invoice.ID, action.InvoiceID)
	}

	// The remaining item can be approved later against the same snapshot.
	rest, err := svc.Approve(context.Background(), p.ID, nil)
	require.NoError(t, err)
	itemB, _ = rest.Item(b.Invoice.ID)
	require.Equal(t, ItemInProgress, itemB.State)
}

func TestApproveTwiceDoesNotDuplicateActions(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{overduePair(1000, 10, 80)}}, sched)

	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), p.ID, nil)
	require.NoError(t, err)
	first := len(sched.scheduled)

	_, err = svc.Approve(context.Background(), p.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, sched.scheduled, first)
}

func TestRejectPendingPlan(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeInvoices{open: []ar.InvoiceWithClient{overduePair(1000, 10, 80)}}, &fakeScheduler{})

	p, err := svc.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NoError(t, svc.Reject(context.Background(), p.ID))

	rejected, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)

	// A rejected plan cannot be approved.
	_, err = svc.Approve(context.Background(), p.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
