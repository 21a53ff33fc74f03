package cashflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
)

// Detector scans upcoming due dates and trailing spend for squeeze risk.
// Three independent checks run: invoice clustering, revenue gaps and low
// runway; each can emit zero or more alerts.
type Detector struct {
	cfg config.EngineConfig
}

// New constructs a Detector.
func New(cfg config.EngineConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect runs all checks over the invoices due inside the forward window.
// Alerts come back critical-first, then by date ascending.
func (d *Detector) Detect(upcoming []ar.Invoice, pos Position) []Alert {
	avgSpend := pos.AvgDailySpend(d.cfg.SpendHistoryDays)

	var alerts []Alert
	alerts = append(alerts, d.detectClustering(upcoming, pos, avgSpend)...)
	alerts = append(alerts, d.detectRevenueGaps(upcoming, pos, avgSpend)...)
	alerts = append(alerts, d.detectLowRunway(upcoming, pos, avgSpend)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity == SeverityCritical
		}
		return alerts[i].Date.Before(alerts[j].Date)
	})
	return alerts
}

// detectClustering flags due dates where three or more invoices land at once
// while the projected balance on that date sits below the runway floor.
func (d *Detector) detectClustering(upcoming []ar.Invoice, pos Position, avgSpend float64) []Alert {
	byDate := make(map[time.Time][]ar.Invoice)
	for _, inv := range upcoming {
		day := inv.DueAt.Truncate(24 * time.Hour)
		byDate[day] = append(byDate[day], inv)
	}

	var alerts []Alert
	for day, cluster := range byDate {
		if len(cluster) < 3 {
			continue
		}
		daysUntil := int(day.Sub(pos.AsOf).Hours() / 24)
		if daysUntil < 0 {
			daysUntil = 0
		}
		projected := pos.CurrentBalance - avgSpend*float64(daysUntil)
		floor := avgSpend * float64(d.cfg.MinimumRunwayDays)
		if projected >= floor {
			continue
		}

		severity := SeverityWarning
		if projected < 0 {
			severity = SeverityCritical
		}

		var total float64
		for _, inv := range cluster {
			total += inv.AmountDue()
		}
		sort.Slice(cluster, func(i, j int) bool {
			return cluster[i].AmountDue() > cluster[j].AmountDue()
		})
		ids := invoiceIDs(cluster)

		alerts = append(alerts, Alert{
			Type:               AlertInvoiceClustering,
			Severity:           severity,
			Date:               day,
			ProjectedShortfall: floor - projected,
			InvoiceIDs:         ids,
			Message: fmt.Sprintf("%d invoices totalling %.2f all fall due on %s while projected balance is %.2f",
				len(cluster), total, day.Format("2006-01-02"), projected),
			Recommendations: []string{
				fmt.Sprintf("offer early-payment incentives on the largest invoices in the cluster, starting with %s", cluster[0].Number),
				"stagger follow-up so collections land before the cluster date",
			},
		})
	}
	return alerts
}

// detectRevenueGaps walks the sorted upcoming due dates and flags stretches
// longer than the configured gap with no expected inflow.
func (d *Detector) detectRevenueGaps(upcoming []ar.Invoice, pos Position, avgSpend float64) []Alert {
	if len(upcoming) < 2 {
		return nil
	}
	dates := make([]time.Time, 0, len(upcoming))
	for _, inv := range upcoming {
		dates = append(dates, inv.DueAt.Truncate(24*time.Hour))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var alerts []Alert
	for i := 1; i < len(dates); i++ {
		gapDays := int(dates[i].Sub(dates[i-1]).Hours() / 24)
		if gapDays <= d.cfg.RevenueGapDays {
			continue
		}
		severity := SeverityWarning
		if gapDays > d.cfg.RevenueGapCritical {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Type:               AlertRevenueGap,
			Severity:           severity,
			Date:               dates[i-1],
			ProjectedShortfall: avgSpend * float64(gapDays),
			Message: fmt.Sprintf("no expected inflows for %d days starting %s",
				gapDays, dates[i-1].Format("2006-01-02")),
			Recommendations: []string{
				"accelerate billing for work in progress",
				"request deposits on new engagements to bridge the gap",
			},
		})
	}
	return alerts
}

// detectLowRunway compares balance against average daily spend.
func (d *Detector) detectLowRunway(upcoming []ar.Invoice, pos Position, avgSpend float64) []Alert {
	if avgSpend <= 0 {
		return nil
	}
	runwayDays := pos.CurrentBalance / avgSpend
	if runwayDays >= float64(d.cfg.MinimumRunwayDays) {
		return nil
	}

	severity := SeverityWarning
	if runwayDays < 7 {
		severity = SeverityCritical
	}

	// Incentivise early payment on the largest invoices due soon enough to
	// matter but not already imminent.
	var targets []ar.Invoice
	for _, inv := range upcoming {
		daysUntil := int(inv.DueAt.Sub(pos.AsOf).Hours() / 24)
		if daysUntil >= 3 && daysUntil <= 21 {
			targets = append(targets, inv)
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].AmountDue() > targets[j].AmountDue()
	})
	if len(targets) > 3 {
		targets = targets[:3]
	}

	shortfall := (float64(d.cfg.MinimumRunwayDays) - runwayDays) * avgSpend
	recs := []string{"reduce discretionary spend until receivables land"}
	if len(targets) > 0 {
		recs = append([]string{fmt.Sprintf("offer early-payment discounts on %d large invoices due within three weeks", len(targets))}, recs...)
	}

	return []Alert{{
		Type:               AlertLowRunway,
		Severity:           severity,
		Date:               pos.AsOf.Truncate(24 * time.Hour),
		ProjectedShortfall: shortfall,
		InvoiceIDs:         invoiceIDs(targets),
		Message:            fmt.Sprintf("cash runway is %.1f days against a %d day floor", runwayDays, d.cfg.MinimumRunwayDays),
		Recommendations:    recs,
	}}
}

func invoiceIDs(invoices []ar.Invoice) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	return ids
}
