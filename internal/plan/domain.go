package plan

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/cashflow"
)

// Status is the plan lifecycle. A pending plan waits for the owner; approval
// moves it to in_progress as scheduled actions materialise; generation of a
// newer plan supersedes any still-pending one.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
	StatusSuperseded      Status = "superseded"
)

// ItemState tracks one invoice inside a plan. Items are pending until that
// invoice's recommendations are approved, then in_progress until the invoice
// settles.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemInProgress ItemState = "in_progress"
	ItemCompleted  ItemState = "completed"
)

var (
	// ErrNotFound indicates no matching plan.
	ErrNotFound = errors.New("plan: not found")
	// ErrInvalidTransition indicates the plan is not in a state that allows
	// the requested operation.
	ErrInvalidTransition = errors.New("plan: invalid status transition")
	// ErrSnapshotVersion indicates a stored snapshot this binary cannot read.
	ErrSnapshotVersion = errors.New("plan: unsupported snapshot version")
)

// SnapshotVersion is the current serialization version of Snapshot. Bump it
// whenever the shape changes so stale rows fail loudly instead of silently
// losing fields.
const SnapshotVersion = 1

// Snapshot freezes the analysis a plan was generated from. Approval operates
// on this snapshot, not on live data, so the owner approves exactly what they
// reviewed.
type Snapshot struct {
	Version     int                        `json:"version"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Analyses    []analyzer.InvoiceAnalysis `json:"analyses"`
	Alerts      []cashflow.Alert           `json:"alerts"`
}

// Analysis returns the snapshot entry for one invoice.
func (s Snapshot) Analysis(invoiceID uuid.UUID) (analyzer.InvoiceAnalysis, bool) {
	for _, a := range s.Analyses {
		if a.InvoiceID == invoiceID {
			return a, true
		}
	}
	return analyzer.InvoiceAnalysis{}, false
}

// Item is one invoice's approval state inside a plan.
type Item struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	State     ItemState `json:"state"`
}

// ActionPlan is a reviewed-and-approved unit of collection work. The totals
// are cached at generation time from the snapshot.
type ActionPlan struct {
	ID     uuid.UUID
	OrgID  uuid.UUID
	Status Status

	Snapshot Snapshot
	Items    []Item

	TotalAmountAtRisk   float64
	ProjectedRecovery   float64
	ProjectedSuccessFee float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingItems returns the invoice IDs still awaiting approval.
func (p *ActionPlan) PendingItems() []uuid.UUID {
	var ids []uuid.UUID
	for _, item := range p.Items {
		if item.State == ItemPending {
			ids = append(ids, item.InvoiceID)
		}
	}
	return ids
}

// Item returns the plan item for one invoice.
func (p *ActionPlan) Item(invoiceID uuid.UUID) (Item, bool) {
	for _, item := range p.Items {
		if item.InvoiceID == invoiceID {
			return item, true
		}
	}
	return Item{}, false
}
