package analyzer

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/scoring"
)

// Analyzer computes urgency, risk and recommended actions for open invoices.
type Analyzer struct {
	cfg   config.EngineConfig
	clock func() time.Time
}

// New constructs an Analyzer.
func New(cfg config.EngineConfig) *Analyzer {
	return &Analyzer{
		cfg: cfg,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the time source, for deterministic tests.
func (a *Analyzer) WithClock(clock func() time.Time) *Analyzer {
	a.clock = clock
	return a
}

// Input carries the open invoices of one organization together with the last
// completed follow-up time per invoice.
type Input struct {
	Invoices    []ar.InvoiceWithClient
	LastContact map[uuid.UUID]time.Time
}

// Analyze scores every open invoice and returns analyses sorted by urgency
// descending. Callers rely on that ordering for "top N most urgent" views.
func (a *Analyzer) Analyze(input Input) []InvoiceAnalysis {
	now := a.clock()
	analyses := make([]InvoiceAnalysis, 0, len(input.Invoices))
	for _, pair := range input.Invoices {
		if !pair.Invoice.IsOpen() {
			continue
		}
		analyses = append(analyses, a.analyzeOne(pair, input.LastContact[pair.Invoice.ID], now))
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].UrgencyScore > analyses[j].UrgencyScore
	})
	return analyses
}

func (a *Analyzer) analyzeOne(pair ar.InvoiceWithClient, lastContact time.Time, now time.Time) InvoiceAnalysis {
	inv := pair.Invoice
	client := pair.Client

	daysOverdue := inv.DaysOverdue(now)
	risk := scoring.Risk(client.PaymentScore, daysOverdue)
	likelihood := scoring.RecoveryLikelihood(client.PaymentScore, daysOverdue)

	analysis := InvoiceAnalysis{
		InvoiceID:            inv.ID,
		ClientID:             client.ID,
		ClientName:           client.Name,
		InvoiceNumber:        inv.Number,
		AmountDue:            inv.AmountDue(),
		DaysOverdue:          daysOverdue,
		UrgencyScore:         a.urgency(inv, risk, now),
		Risk:                 risk,
		RecoveryLikelihood:   likelihood,
		PredictedPaymentDate: predictedPaymentDate(inv, client),
		Actions:              a.recommend(inv, client, lastContact, now),
	}
	return analysis
}

// urgency ranks how soon an invoice needs attention on a 0-100 scale.
func (a *Analyzer) urgency(inv ar.Invoice, risk scoring.RiskLevel, now time.Time) int {
	var score int
	if daysOverdue := inv.DaysOverdue(now); daysOverdue > 0 {
		score = clamp(40+2*daysOverdue, 0, 70)
	} else {
		score = clamp(30-4*inv.DaysToDue(now), 0, 30)
	}

	if inv.AmountDue() > a.cfg.LargeAmountThreshold {
		score += 20
	}
	if inv.AmountDue() > a.cfg.HugeAmountThreshold {
		score += 10
	}

	switch risk {
	case scoring.RiskHigh:
		score += 15
	case scoring.RiskCritical:
		score += 25
	}

	return clamp(score, 0, 100)
}

// predictedPaymentDate shifts the due date by the client's historical average
// days-to-payment, pushed further out the weaker the payment score.
func predictedPaymentDate(inv ar.Invoice, client ar.Client) time.Time {
	shift := client.AvgDaysToPay + (100-client.PaymentScore)/10
	return inv.DueAt.AddDate(0, 0, shift)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
