package outreach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/platform/ratelimit"
)

var execNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type fakeActionStore struct {
	mu        sync.Mutex
	actions   map[uuid.UUID]*ScheduledAction
	comms     []Communication
	callTasks []ScheduledAction
}

func newFakeActionStore(actions ...ScheduledAction) *fakeActionStore {
	s := &fakeActionStore{actions: map[uuid.UUID]*ScheduledAction{}}
	for i := range actions {
		a := actions[i]
		s.actions[a.ID] = &a
	}
	return s
}

func (s *fakeActionStore) ListDue(_ context.Context, now time.Time, limit int) ([]ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []ScheduledAction
	for _, a := range s.actions {
		if a.Status == ActionScheduled && !a.ScheduledFor.After(now) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeActionStore) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.Status != ActionScheduled {
		return false, nil
	}
	a.Status = ActionInFlight
	return true, nil
}

func (s *fakeActionStore) Complete(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.Status != ActionInFlight {
		return ErrNotFound
	}
	a.Status = ActionCompleted
	a.CompletedAt = &at
	return nil
}

func (s *fakeActionStore) Fail(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[id].Status = ActionFailed
	s.actions[id].FailureReason = reason
	return nil
}

func (s *fakeActionStore) Cancel(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[id].Status = ActionCancelled
	s.actions[id].FailureReason = reason
	return nil
}

func (s *fakeActionStore) CreateCallTask(_ context.Context, a ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callTasks = append(s.callTasks, a)
	return nil
}

func (s *fakeActionStore) RecordCommunication(_ context.Context, c Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comms = append(s.comms, c)
	return nil
}

func (s *fakeActionStore) get(id uuid.UUID) ScheduledAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.actions[id]
}

type fakeReader struct {
	invoices map[uuid.UUID]ar.Invoice
	clients  map[uuid.UUID]ar.Client
}

func (f *fakeReader) GetInvoice(_ context.Context, id uuid.UUID) (*ar.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, ar.ErrNotFound
	}
	return &inv, nil
}

func (f *fakeReader) GetClient(_ context.Context, id uuid.UUID) (*ar.Client, error) {
	cl, ok := f.clients[id]
	if !ok {
		return nil, ar.ErrNotFound
	}
	return &cl, nil
}

type fakeEmail struct {
	mu     sync.Mutex
	sent   []string
	failTo string
}

func (f *fakeEmail) SendEmail(_ context.Context, to, _, body string) (string, error) {
	if to == f.failTo {
		return "", errors.New("mailbox unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return "sg-" + uuid.NewString()[:8], nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, _, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return "tw-" + uuid.NewString()[:8], nil
}

type fakeLinks struct{}

func (fakeLinks) PaymentLink(_ context.Context, inv ar.Invoice, _ *analyzer.IncentiveOffer) (string, error) {
	return "https://pay.test/" + inv.ID.String(), nil
}

func execConfig() config.EngineConfig {
	return config.EngineConfig{
		DispatchBatchSize:   50,
		DispatchConcurrency: 2,
		ProviderCallTimeout: time.Second,
	}
}

func newTestExecutor(store *fakeActionStore, reader *fakeReader, email *fakeEmail, sms *fakeSMS) *Executor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(execConfig(), store, reader, email, sms, fakeLinks{}, ratelimit.Unlimited{}, log).
		WithClock(func() time.Time { return execNow })
}

func scheduledEmail(inv ar.Invoice, cl ar.Client) ScheduledAction {
	return ScheduledAction{
		ID:           uuid.New(),
		OrgID:        inv.OrgID,
		PlanID:       uuid.New(),
		InvoiceID:    inv.ID,
		ClientID:     cl.ID,
		Type:         analyzer.ActionEmail,
		Status:       ActionScheduled,
		ScheduledFor: execNow.Add(-time.Hour),
		Content: Content{
			Subject: "Reminder: invoice INV-1 is past due",
			Body:    "Please pay here: " + PaymentLinkPlaceholder,
			Tone:    ToneReminder,
		},
	}
}

func openInvoice() (ar.Invoice, ar.Client) {
	cl := ar.Client{ID: uuid.New(), Name: "Acme Ltd", Email: "ap@acme.test", Phone: "+15550100"}
	inv := ar.Invoice{
		ID:       uuid.New(),
		OrgID:    uuid.New(),
		ClientID: cl.ID,
		Number:   "INV-1",
		Amount:   1000,
		Status:   ar.StatusOverdue,
		DueAt:    execNow.AddDate(0, 0, -10),
	}
	return inv, cl
}

func TestExecutorDispatchesDueEmail(t *testing.T) {
	inv, cl := openInvoice()
	action := scheduledEmail(inv, cl)
	store := newFakeActionStore(action)
	email := &fakeEmail{}
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{inv.ID: inv},
		clients:  map[uuid.UUID]ar.Client{cl.ID: cl},
	}

	result, err := newTestExecutor(store, reader, email, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1, Successful: 1}, result)

	final := store.get(action.ID)
	require.Equal(t, ActionCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	require.Len(t, email.sent, 1)
	require.NotContains(t, email.sent[0], PaymentLinkPlaceholder)
	require.Contains(t, email.sent[0], "https://pay.test/"+inv.ID.String())

	require.Len(t, store.comms, 1)
	require.Equal(t, action.ID, store.comms[0].ActionID)
	require.True(t, strings.HasPrefix(store.comms[0].ProviderID, "sg-"))
}

func TestExecutorCancelsWhenInvoiceSettled(t *testing.T) {
	inv, cl := openInvoice()
	inv.Status = ar.StatusPaid
	inv.AmountPaid = inv.Amount
	action := scheduledEmail(inv, cl)
	store := newFakeActionStore(action)
	email := &fakeEmail{}
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{inv.ID: inv},
		clients:  map[uuid.UUID]ar.Client{cl.ID: cl},
	}

	result, err := newTestExecutor(store, reader, email, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1}, result)

	final := store.get(action.ID)
	require.Equal(t, ActionCancelled, final.Status)
	require.Empty(t, email.sent)
	require.Empty(t, store.comms)
}

func TestExecutorCancelsExpiredDiscount(t *testing.T) {
	inv, cl := openInvoice()
	action := scheduledEmail(inv, cl)
	action.Type = analyzer.ActionDiscount
	action.Incentive = &analyzer.IncentiveOffer{
		Kind:            analyzer.IncentiveDiscount,
		DiscountPercent: 5,
		ExpiresAt:       execNow.AddDate(0, 0, -1),
	}
	store := newFakeActionStore(action)
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{inv.ID: inv},
		clients:  map[uuid.UUID]ar.Client{cl.ID: cl},
	}

	result, err := newTestExecutor(store, reader, &fakeEmail{}, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1}, result)
	require.Equal(t, ActionCancelled, store.get(action.ID).Status)
}

func TestExecutorIsolatesFailures(t *testing.T) {
	invA, clA := openInvoice()
	invB, clB := openInvoice()
	clB.Email = "bounce@broken.test"
	good := scheduledEmail(invA, clA)
	bad := scheduledEmail(invB, clB)
	store := newFakeActionStore(good, bad)
	email := &fakeEmail{failTo: clB.Email}
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{invA.ID: invA, invB.ID: invB},
		clients:  map[uuid.UUID]ar.Client{clA.ID: clA, clB.ID: clB},
	}

	result, err := newTestExecutor(store, reader, email, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 2, Successful: 1, Failed: 1}, result)

	require.Equal(t, ActionCompleted, store.get(good.ID).Status)
	failed := store.get(bad.ID)
	require.Equal(t, ActionFailed, failed.Status)
	require.Contains(t, failed.FailureReason, "mailbox unavailable")
}

func TestExecutorLeavesFutureActionsAlone(t *testing.T) {
	inv, cl := openInvoice()
	action := scheduledEmail(inv, cl)
	action.ScheduledFor = execNow.Add(time.Hour)
	store := newFakeActionStore(action)
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{inv.ID: inv},
		clients:  map[uuid.UUID]ar.Client{cl.ID: cl},
	}

	result, err := newTestExecutor(store, reader, &fakeEmail{}, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{}, result)
	require.Equal(t, ActionScheduled, store.get(action.ID).Status)
}

func TestCallActionCreatesManualTask(t *testing.T) {
	inv, cl := openInvoice()
	action := scheduledEmail(inv, cl)
	action.Type = analyzer.ActionCall
	action.Content = Content{Subject: "Collection call", Body: "Talking points:\n- Ask for a date.", Tone: ToneFinal}
	store := newFakeActionStore(action)
	reader := &fakeReader{
		invoices: map[uuid.UUID]ar.Invoice{inv.ID: inv},
		clients:  map[uuid.UUID]ar.Client{cl.ID: cl},
	}

	result, err := newTestExecutor(store, reader, &fakeEmail{}, &fakeSMS{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1, Successful: 1}, result)

	require.Len(t, store.callTasks, 1)
	require.Equal(t, action.ID, store.callTasks[0].ID)
	require.Equal(t, ActionCompleted, store.get(action.ID).Status)
	require.Len(t, store.comms, 1)
	require.Empty(t, store.comms[0].ProviderID)
}
