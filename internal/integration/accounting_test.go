package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/payments"
	"github.com/duepilot/duepilot/internal/shared"
)

var syncNow = time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)

type fakeIntStore struct {
	integration *Integration
	processed   map[string]bool
	status      Status
	lastError   string
	syncedAt    time.Time
	cashDays    map[time.Time]float64
}

func newFakeIntStore(kind Kind) *fakeIntStore {
	return &fakeIntStore{
		integration: &Integration{
			ID:         uuid.New(),
			OrgID:      uuid.New(),
			Kind:       kind,
			Status:     StatusConnected,
			LastSyncAt: syncNow.AddDate(0, 0, -1),
		},
		processed: map[string]bool{},
		cashDays:  map[time.Time]float64{},
	}
}

func (f *fakeIntStore) Get(_ context.Context, orgID uuid.UUID, kind Kind) (*Integration, error) {
	if f.integration.OrgID != orgID || f.integration.Kind != kind {
		return nil, ErrNotFound
	}
	in := *f.integration
	return &in, nil
}

func (f *fakeIntStore) MarkStatus(_ context.Context, _ uuid.UUID, status Status, lastError string) error {
	f.status = status
	f.lastError = lastError
	return nil
}

func (f *fakeIntStore) RecordSync(_ context.Context, _ uuid.UUID, at time.Time) error {
	f.status = StatusConnected
	f.syncedAt = at
	return nil
}

func (f *fakeIntStore) WasProcessed(_ context.Context, _ uuid.UUID, externalID string) (bool, error) {
	return f.processed[externalID], nil
}

func (f *fakeIntStore) MarkProcessed(_ context.Context, _ uuid.UUID, externalID string) (bool, error) {
	if f.processed[externalID] {
		return false, nil
	}
	f.processed[externalID] = true
	return true, nil
}

func (f *fakeIntStore) UpsertDailyCash(_ context.Context, _ uuid.UUID, day time.Time, _ float64, outflow float64) error {
	f.cashDays[day] += outflow
	return nil
}

type staticToken struct {
	err error
}

func (s staticToken) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "tok-1", nil
}

type fakeAccountingFeed struct {
	records []ExternalPayment
	err     error
}

func (f *fakeAccountingFeed) ListPayments(context.Context, string, uuid.UUID, time.Time) ([]ExternalPayment, error) {
	return f.records, f.err
}

type fakeMatcher struct {
	byID     map[uuid.UUID]ar.Invoice
	byAmount map[float64]ar.Invoice
}

func (f *fakeMatcher) GetInvoice(_ context.Context, id uuid.UUID) (*ar.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, ar.ErrNotFound
	}
	return &inv, nil
}

func (f *fakeMatcher) FindOpenInvoiceByAmount(_ context.Context, _ uuid.UUID, amount, tolerance float64) (*ar.Invoice, error) {
	for amt, inv := range f.byAmount {
		if math.Abs(amt-amount) <= tolerance {
			return &inv, nil
		}
	}
	return nil, ar.ErrNotFound
}

type fakeRecorder struct {
	notices []payments.PaymentNotice
	errFor  map[string]error
}

func (f *fakeRecorder) RecordPayment(_ context.Context, notice payments.PaymentNotice) (*payments.RecoveryEvent, error) {
	if err := f.errFor[notice.Reference]; err != nil {
		return nil, err
	}
	f.notices = append(f.notices, notice)
	return &payments.RecoveryEvent{ID: uuid.New()}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func invoiceFor(orgID uuid.UUID, amount float64) ar.Invoice {
	return ar.Invoice{
		ID:     uuid.New(),
		OrgID:  orgID,
		Number: "INV-7",
		Amount: amount,
		Status: ar.StatusOverdue,
		DueAt:  syncNow.AddDate(0, 0, -20),
	}
}

func TestAccountingSyncMatchesLinkedAndByAmount(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	orgID := store.integration.OrgID
	linked := invoiceFor(orgID, 750)
	unlinked := invoiceFor(orgID, 320)

	feed := &fakeAccountingFeed{records: []ExternalPayment{
		{ExternalID: "acc-1", LinkedID: &linked.ID, Amount: 750, PaidAt: syncNow},
		{ExternalID: "acc-2", Amount: 320, PaidAt: syncNow},
		{ExternalID: "acc-3", Amount: 9999, PaidAt: syncNow}, // matches nothing
	}}
	matcher := &fakeMatcher{
		byID:     map[uuid.UUID]ar.Invoice{linked.ID: linked},
		byAmount: map[float64]ar.Invoice{320: unlinked},
	}
	recorder := &fakeRecorder{}
	syncer := NewAccountingSyncer(store, staticToken{}, feed, matcher, recorder, testLogger()).
		WithClock(func() time.Time { return syncNow })

	result, err := syncer.Sync(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Fetched: 3, Recorded: 2, Skipped: 1}, result)

	require.Len(t, recorder.notices, 2)
	require.Equal(t, linked.ID, recorder.notices[0].InvoiceID)
	require.Equal(t, unlinked.ID, recorder.notices[1].InvoiceID)
	require.Equal(t, "accounting", recorder.notices[0].Source)
	require.Equal(t, syncNow, store.syncedAt)
}

func TestAccountingSyncSkipsProcessedAndDuplicates(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	orgID := store.integration.OrgID
	inv := invoiceFor(orgID, 500)
	store.processed["acc-old"] = true

	feed := &fakeAccountingFeed{records: []ExternalPayment{
		{ExternalID: "acc-old", LinkedID: &inv.ID, Amount: 500, PaidAt: syncNow},
		{ExternalID: "acc-dup", LinkedID: &inv.ID, Amount: 500, PaidAt: syncNow},
	}}
	matcher := &fakeMatcher{byID: map[uuid.UUID]ar.Invoice{inv.ID: inv}}
	recorder := &fakeRecorder{errFor: map[string]error{"acc-dup": shared.ErrDuplicateEvent}}
	syncer := NewAccountingSyncer(store, staticToken{}, feed, matcher, recorder, testLogger())

	result, err := syncer.Sync(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Fetched: 2, Skipped: 2}, result)
	require.Empty(t, recorder.notices)
}

func TestAccountingSyncIsolatesRecordFailures(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	orgID := store.integration.OrgID
	good := invoiceFor(orgID, 100)
	bad := invoiceFor(orgID, 200)

	feed := &fakeAccountingFeed{records: []ExternalPayment{
		{ExternalID: "acc-bad", LinkedID: &bad.ID, Amount: 200, PaidAt: syncNow},
		{ExternalID: "acc-good", LinkedID: &good.ID, Amount: 100, PaidAt: syncNow},
	}}
	matcher := &fakeMatcher{byID: map[uuid.UUID]ar.Invoice{good.ID: good, bad.ID: bad}}
	recorder := &fakeRecorder{errFor: map[string]error{"acc-bad": errors.New("db down")}}
	syncer := NewAccountingSyncer(store, staticToken{}, feed, matcher, recorder, testLogger())

	result, err := syncer.Sync(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Fetched: 2, Recorded: 1, Failed: 1}, result)
	require.Len(t, recorder.notices, 1)
	require.Equal(t, good.ID, recorder.notices[0].InvoiceID)

	// The failed record stays out of the ledger and the watermark stays put,
	// so the next pull sees it again.
	require.False(t, store.processed["acc-bad"])
	require.True(t, store.processed["acc-good"])
	require.True(t, store.syncedAt.IsZero())
	require.Equal(t, StatusConnected, store.status)
	require.Contains(t, store.lastError, "1 records failed")
}

func TestAccountingSyncRetriesFailedRecordOnNextPass(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	orgID := store.integration.OrgID
	inv := invoiceFor(orgID, 640)

	feed := &fakeAccountingFeed{records: []ExternalPayment{
		{ExternalID: "acc-flaky", LinkedID: &inv.ID, Amount: 640, PaidAt: syncNow},
	}}
	matcher := &fakeMatcher{byID: map[uuid.UUID]ar.Invoice{inv.ID: inv}}
	recorder := &fakeRecorder{errFor: map[string]error{"acc-flaky": errors.New("db down")}}
	syncer := NewAccountingSyncer(store, staticToken{}, feed, matcher, recorder, testLogger()).
		WithClock(func() time.Time { return syncNow })

	result, err := syncer.Sync(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Fetched: 1, Failed: 1}, result)
	require.Empty(t, recorder.notices)
	require.True(t, store.syncedAt.IsZero())

	// The outage clears; the second pass records the payment.
	delete(recorder.errFor, "acc-flaky")
	result, err = syncer.Sync(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Fetched: 1, Recorded: 1}, result)
	require.Len(t, recorder.notices, 1)
	require.Equal(t, inv.ID, recorder.notices[0].InvoiceID)
	require.True(t, store.processed["acc-flaky"])
	require.Equal(t, syncNow, store.syncedAt)
}

func TestAccountingSyncMarksExpiredOnTokenFailure(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	syncer := NewAccountingSyncer(store, staticToken{err: errors.New("invalid_grant")},
		&fakeAccountingFeed{}, &fakeMatcher{}, &fakeRecorder{}, testLogger())

	_, err := syncer.Sync(context.Background(), store.integration.OrgID)
	require.Error(t, err)
	require.Equal(t, StatusExpired, store.status)
	require.Contains(t, store.lastError, "invalid_grant")
}

func TestAccountingSyncMarksErrorOnFeedFailure(t *testing.T) {
	store := newFakeIntStore(KindAccounting)
	syncer := NewAccountingSyncer(store, staticToken{},
		&fakeAccountingFeed{err: errors.New("upstream 503")}, &fakeMatcher{}, &fakeRecorder{}, testLogger())

	_, err := syncer.Sync(context.Background(), store.integration.OrgID)
	require.Error(t, err)
	require.Equal(t, StatusError, store.status)
}
