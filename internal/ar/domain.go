package ar

import (
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/scoring"
)

// InvoiceStatus enumerates receivable statuses. Statuses move toward paid;
// the overdue flag is recomputed from the due date, not a one-way transition.
type InvoiceStatus string

const (
	StatusSent    InvoiceStatus = "sent"
	StatusViewed  InvoiceStatus = "viewed"
	StatusPartial InvoiceStatus = "partial"
	StatusOverdue InvoiceStatus = "overdue"
	StatusPaid    InvoiceStatus = "paid"
)

// OpenStatuses are the statuses the engine operates on. Paid invoices are
// excluded at the source, which is how scheduling stops for settled invoices.
var OpenStatuses = []InvoiceStatus{StatusSent, StatusViewed, StatusPartial, StatusOverdue}

// OverpaymentTolerance allows payments to exceed the amount due by 1% before
// they are rejected as invariant violations (bank fees, rounding).
const OverpaymentTolerance = 0.01

// Invoice is a single receivable, created by the billing system and mutated
// only by the payment monitor.
type Invoice struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ClientID   uuid.UUID
	Number     string
	Amount     float64
	AmountPaid float64
	Status     InvoiceStatus
	DueAt      time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AmountDue returns the outstanding balance.
func (i Invoice) AmountDue() float64 {
	due := i.Amount - i.AmountPaid
	if due < 0 {
		return 0
	}
	return due
}

// DaysOverdue returns max(0, asOf - dueDate) in whole days.
func (i Invoice) DaysOverdue(asOf time.Time) int {
	days := int(asOf.Sub(i.DueAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DaysToDue returns the signed number of days until the due date.
func (i Invoice) DaysToDue(asOf time.Time) int {
	return int(i.DueAt.Sub(asOf).Hours() / 24)
}

// IsOpen reports whether the invoice still carries a balance the engine
// should work.
func (i Invoice) IsOpen() bool {
	return i.Status != StatusPaid
}

// ContactChannel is a client's preferred outreach channel.
type ContactChannel string

const (
	ChannelEmail ContactChannel = "email"
	ChannelSMS   ContactChannel = "sms"
	ChannelCall  ContactChannel = "call"
)

// Client is a payer. Identity fields are immutable; the behavioral fields are
// recomputed by the payment monitor after each confirmed payment.
type Client struct {
	ID    uuid.UUID
	OrgID uuid.UUID
	Name  string
	Email string
	Phone string

	PaymentScore     int
	Tier             scoring.BehaviorTier
	AvgDaysToPay     int
	PreferredChannel ContactChannel
	BestContactDay   *time.Weekday
	BestContactHour  *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceWithClient pairs an invoice with its payer for analysis.
type InvoiceWithClient struct {
	Invoice Invoice
	Client  Client
}

// ClientStats carries the recomputed behavioral fields back to storage.
type ClientStats struct {
	PaymentScore    int
	Tier            scoring.BehaviorTier
	AvgDaysToPay    int
	BestContactDay  *time.Weekday
	BestContactHour *int
}
