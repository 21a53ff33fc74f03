package analyzer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/scoring"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinDaysBetweenContacts: 3,
		UrgencyPlanFloor:       20,
		LargeAmountThreshold:   5000,
		HugeAmountThreshold:    15000,
	}
}

var testNow = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

func testAnalyzer() *Analyzer {
	return New(testEngineConfig()).WithClock(func() time.Time { return testNow })
}

func pairWith(amount float64, dueAt time.Time, score int) ar.InvoiceWithClient {
	return ar.InvoiceWithClient{
		Invoice: ar.Invoice{
			ID:       uuid.New(),
			ClientID: uuid.New(),
			Number:   "INV-100",
			Amount:   amount,
			Status:   ar.StatusSent,
			DueAt:    dueAt,
		},
		Client: ar.Client{PaymentScore: score},
	}
}

func TestNotYetDueInvoiceIsQuiet(t *testing.T) {
	// Due in 10 days, $1,000, score 80: no contact band, urgency below 30.
	pair := pairWith(1000, testNow.AddDate(0, 0, 10), 80)

	analyses := testAnalyzer().Analyze(Input{Invoices: []ar.InvoiceWithClient{pair}})
	require.Len(t, analyses, 1)
	require.Empty(t, analyses[0].Actions)
	require.Less(t, analyses[0].UrgencyScore, 30)
}

func TestTenDaysOverdueEmitsEmailAndPaymentLink(t *testing.T) {
	pair := pairWith(1000, testNow.AddDate(0, 0, -10), 80)
	pair.Invoice.Status = ar.StatusOverdue

	analyses := testAnalyzer().Analyze(Input{Invoices: []ar.InvoiceWithClient{pair}})
	require.Len(t, analyses, 1)

	analysis := analyses[0]
	require.GreaterOrEqual(t, analysis.UrgencyScore, 47)
	require.Len(t, analysis.Actions, 2)

	// Sorted by priority descending: payment link first.
	require.Equal(t, ActionPaymentLink, analysis.Actions[0].Type)
	require.InDelta(t, 0.40, analysis.Actions[0].ExpectedResponseRate, 1e-9)
	require.Equal(t, ActionEmail, analysis.Actions[1].Type)
	require.InDelta(t, 0.35, analysis.Actions[1].ExpectedResponseRate, 1e-9)
}

func TestUrgencyBoundsAndMonotonicity(t *testing.T) {
	a := testAnalyzer()
	prev := -1
	for days := 0; days <= 120; days++ {
		pair := pairWith(1000, testNow.AddDate(0, 0, -days), 80)
		analysis := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pair}})[0]
		require.GreaterOrEqual(t, analysis.UrgencyScore, 0)
		require.LessOrEqual(t, analysis.UrgencyScore, 100)
		if days > 0 {
			require.GreaterOrEqual(t, analysis.UrgencyScore, prev, "days=%d", days)
		}
		prev = analysis.UrgencyScore
	}
}

func TestUrgencyAmountBoosts(t *testing.T) {
	a := testAnalyzer()
	due := testNow.AddDate(0, 0, -10)

	small := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(1000, due, 80)}})[0]
	large := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(8000, due, 80)}})[0]
	huge := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(20000, due, 80)}})[0]

	require.Equal(t, small.UrgencyScore+20, large.UrgencyScore)
	require.Equal(t, small.UrgencyScore+30, huge.UrgencyScore)
}

func TestAnalysesSortedByUrgencyDescending(t *testing.T) {
	a := testAnalyzer()
	pairs := []ar.InvoiceWithClient{
		pairWith(1000, testNow.AddDate(0, 0, 10), 80),  // quiet
		pairWith(1000, testNow.AddDate(0, 0, -40), 40), // hot
		pairWith(1000, testNow.AddDate(0, 0, -5), 80),  // warm
	}
	analyses := a.Analyze(Input{Invoices: pairs})
	require.Len(t, analyses, 3)
	for i := 1; i < len(analyses); i++ {
		require.GreaterOrEqual(t, analyses[i-1].UrgencyScore, analyses[i].UrgencyScore)
	}
}

func TestContactIntervalFloor(t *testing.T) {
	a := testAnalyzer()
	pair := pairWith(1000, testNow.AddDate(0, 0, -10), 80)
	lastContact := testNow.AddDate(0, 0, -1)

	analyses := a.Analyze(Input{
		Invoices:    []ar.InvoiceWithClient{pair},
		LastContact: map[uuid.UUID]time.Time{pair.Invoice.ID: lastContact},
	})
	floor := lastContact.AddDate(0, 0, 3)
	for _, action := range analyses[0].Actions {
		require.False(t, action.ScheduledFor.Before(floor),
			"action %s scheduled %s before floor %s", action.Type, action.ScheduledFor, floor)
	}
}

func TestScheduleHonoursBestContactDayAndHour(t *testing.T) {
	a := testAnalyzer()
	pair := pairWith(1000, testNow.AddDate(0, 0, -10), 80)
	day := time.Thursday
	hour := 9
	pair.Client.BestContactDay = &day
	pair.Client.BestContactHour = &hour

	analyses := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pair}})
	for _, action := range analyses[0].Actions {
		require.Equal(t, time.Thursday, action.ScheduledFor.Weekday())
		require.Equal(t, 9, action.ScheduledFor.Hour())
		require.False(t, action.ScheduledFor.Before(testNow.Truncate(24*time.Hour)))
	}
}

func TestDeepOverdueBandEscalates(t *testing.T) {
	a := testAnalyzer()
	pair := pairWith(1000, testNow.AddDate(0, 0, -60), 40)

	analysis := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pair}})[0]
	types := map[ActionType]*RecommendedAction{}
	for i := range analysis.Actions {
		types[analysis.Actions[i].Type] = &analysis.Actions[i]
	}
	require.Contains(t, types, ActionCall)
	require.Contains(t, types, ActionPaymentPlan)
	require.Contains(t, types, ActionDiscount)
	require.NotNil(t, types[ActionDiscount].Incentive)
	require.InDelta(t, 10.0, types[ActionDiscount].Incentive.DiscountPercent, 1e-9)
	require.Equal(t, IncentiveInstallment, types[ActionPaymentPlan].Incentive.Kind)
}

func TestIncentiveDiscountDecaysWithAge(t *testing.T) {
	a := testAnalyzer()
	young := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(1000, testNow.AddDate(0, 0, -25), 60)}})[0]
	old := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(1000, testNow.AddDate(0, 0, -44), 60)}})[0]

	discountOf := func(analysis InvoiceAnalysis) float64 {
		for _, action := range analysis.Actions {
			if action.Type == ActionDiscount {
				return action.Incentive.DiscountPercent
			}
		}
		t.Fatalf("no discount action")
		return 0
	}
	require.Greater(t, discountOf(young), discountOf(old))
}

func TestPredictedPaymentDateShiftsWithHistory(t *testing.T) {
	a := testAnalyzer()
	due := testNow.AddDate(0, 0, -10)

	slow := pairWith(1000, due, 60)
	slow.Client.AvgDaysToPay = 12
	analysis := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{slow}})[0]
	require.Equal(t, due.AddDate(0, 0, 16), analysis.PredictedPaymentDate)

	fast := pairWith(1000, due, 100)
	fast.Client.AvgDaysToPay = 0
	analysis = a.Analyze(Input{Invoices: []ar.InvoiceWithClient{fast}})[0]
	require.Equal(t, due, analysis.PredictedPaymentDate)
}

func TestRiskFeedsUrgency(t *testing.T) {
	a := testAnalyzer()
	due := testNow.AddDate(0, 0, -10)

	good := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(1000, due, 90)}})[0]
	bad := a.Analyze(Input{Invoices: []ar.InvoiceWithClient{pairWith(1000, due, 5)}})[0]

	require.Equal(t, scoring.RiskLow, good.Risk)
	require.Greater(t, bad.UrgencyScore, good.UrgencyScore)
	require.Less(t, bad.RecoveryLikelihood, good.RecoveryLikelihood)
}
