package analyzer

import (
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/scoring"
)

// ActionType enumerates the outreach actions the engine can recommend. This
// is the single tagged union for action payloads; persisted actions carry it
// in a typed column, never inside a free-form JSON blob.
type ActionType string

const (
	ActionEmail       ActionType = "email"
	ActionSMS         ActionType = "sms"
	ActionCall        ActionType = "call"
	ActionPaymentLink ActionType = "payment_link"
	ActionDiscount    ActionType = "discount_offer"
	ActionPaymentPlan ActionType = "payment_plan"
)

// IncentiveKind discriminates the two incentive shapes.
type IncentiveKind string

const (
	IncentiveDiscount    IncentiveKind = "discount"
	IncentiveInstallment IncentiveKind = "installment"
)

// IncentiveOffer is an ephemeral proposal attached to a recommendation. The
// outreach executor consumes it to adjust the payment-link amount and copy.
type IncentiveOffer struct {
	Kind            IncentiveKind
	DiscountPercent float64
	Installments    int
	ExpiresAt       time.Time
}

// DiscountAmount returns the absolute discount for the given balance.
func (o IncentiveOffer) DiscountAmount(amountDue float64) float64 {
	if o.Kind != IncentiveDiscount {
		return 0
	}
	return amountDue * o.DiscountPercent / 100
}

// RecommendedAction is one step of the contact policy for an invoice.
type RecommendedAction struct {
	Type                 ActionType
	Priority             int // 1-10, higher runs first
	ExpectedResponseRate float64
	ScheduledFor         time.Time
	Reason               string
	Incentive            *IncentiveOffer
}

// InvoiceAnalysis is a derived, recomputable snapshot of one open invoice.
// It is never authoritative state; plans embed it at generation time.
type InvoiceAnalysis struct {
	InvoiceID            uuid.UUID
	ClientID             uuid.UUID
	ClientName           string
	InvoiceNumber        string
	AmountDue            float64
	DaysOverdue          int
	UrgencyScore         int
	Risk                 scoring.RiskLevel
	RecoveryLikelihood   float64
	PredictedPaymentDate time.Time
	Actions              []RecommendedAction
}
