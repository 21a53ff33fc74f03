package cashflow

import (
	"time"

	"github.com/google/uuid"
)

// AlertType enumerates forward-looking cash warnings.
type AlertType string

const (
	AlertInvoiceClustering AlertType = "invoice_clustering"
	AlertRevenueGap        AlertType = "revenue_gap"
	AlertExpenseSpike      AlertType = "expense_spike"
	AlertLowRunway         AlertType = "low_runway"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one cash-squeeze warning. It may reference several invoices and
// is never tied to exactly one.
type Alert struct {
	Type               AlertType
	Severity           Severity
	Date               time.Time
	ProjectedShortfall float64
	InvoiceIDs         []uuid.UUID
	Message            string
	Recommendations    []string
}

// Position is the detector's view of the organization's cash situation.
type Position struct {
	CurrentBalance float64
	// DailyOutflows are signed bank amounts over the trailing spend-history
	// window; only negative entries count toward average daily spend.
	DailyOutflows []float64
	AsOf          time.Time
}

// AvgDailySpend averages the outflow magnitudes over the history window.
func (p Position) AvgDailySpend(historyDays int) float64 {
	if historyDays <= 0 {
		return 0
	}
	var spent float64
	for _, v := range p.DailyOutflows {
		if v < 0 {
			spent += -v
		}
	}
	return spent / float64(historyDays)
}
