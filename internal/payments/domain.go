package payments

import (
	"time"

	"github.com/google/uuid"
)

// Attribution grades how confidently a payment is credited to outreach.
// Organic payments carry no fee.
type Attribution string

const (
	AttributionFull    Attribution = "full"
	AttributionPartial Attribution = "partial"
	AttributionLow     Attribution = "low"
	AttributionOrganic Attribution = "organic"
)

// EventStatus is the billing lifecycle of a recovery event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventInvoiced  EventStatus = "invoiced"
	EventCollected EventStatus = "collected"
)

// RecoveryEvent records one attributed payment. Events are immutable:
// corrections insert a compensating event pointing back at the original
// instead of mutating it.
type RecoveryEvent struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	InvoiceID uuid.UUID
	ClientID  uuid.UUID

	PaymentAmount float64
	PaidAt        time.Time
	DaysOverdue   int

	Attribution        Attribution
	AttributedActionID *uuid.UUID
	FeePercent         float64
	FeeAmount          float64

	Status             EventStatus
	CompensatesEventID *uuid.UUID
	CreatedAt          time.Time
}

// BillingCycle accumulates an organization's recoveries and fees for one
// calendar month. Month is formatted 2006-01.
type BillingCycle struct {
	OrgID          uuid.UUID
	Month          string
	TotalRecovered float64
	TotalFees      float64
	EventCount     int
	Status         EventStatus
	UpdatedAt      time.Time
}

// CycleMonth formats a payment time into its billing-cycle key.
func CycleMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PaymentNotice is an inbound payment report, from the webhook or a sync
// adapter. Reference is the reporter's identifier for dedup and audit.
type PaymentNotice struct {
	OrgID     uuid.UUID
	InvoiceID uuid.UUID
	Amount    float64
	PaidAt    time.Time
	Source    string
	Reference string
}
