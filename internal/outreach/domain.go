package outreach

import (
	"time"

	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/analyzer"
)

// ActionStatus tracks a scheduled action through dispatch. scheduled moves to
// in_flight when a batch runner claims it; terminal states are completed,
// failed (with a retryable error recorded) and cancelled.
type ActionStatus string

const (
	ActionScheduled ActionStatus = "scheduled"
	ActionInFlight  ActionStatus = "in_flight"
	ActionSent      ActionStatus = "sent"
	ActionDelivered ActionStatus = "delivered"
	ActionOpened    ActionStatus = "opened"
	ActionClicked   ActionStatus = "clicked"
	ActionResponded ActionStatus = "responded"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// Tone selects the register of the rendered message. Bands follow the
// analyzer's contact-policy bands so copy escalates in step with the mix.
type Tone string

const (
	ToneFriendly Tone = "friendly"
	ToneReminder Tone = "reminder"
	ToneUrgent   Tone = "urgent"
	ToneFinal    Tone = "final"
)

// ToneForDaysOverdue maps overdue age to the message register.
func ToneForDaysOverdue(days int) Tone {
	switch {
	case days <= 7:
		return ToneFriendly
	case days <= 21:
		return ToneReminder
	case days <= 45:
		return ToneUrgent
	default:
		return ToneFinal
	}
}

// Content is the rendered channel-specific message. The payment link is
// substituted at dispatch time via the placeholder.
type Content struct {
	Subject string
	Body    string
	Tone    Tone
}

// PaymentLinkPlaceholder is replaced with the real link during dispatch.
const PaymentLinkPlaceholder = "{{payment_link}}"

// ScheduledAction is the unit of outreach work, materialised from an
// approved plan. Incentive fields are structured columns, reconstructed by
// plain deserialization rather than JSON scraping.
type ScheduledAction struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	PlanID    uuid.UUID
	InvoiceID uuid.UUID
	ClientID  uuid.UUID

	Type         analyzer.ActionType
	Status       ActionStatus
	ScheduledFor time.Time
	Content      Content
	Incentive    *analyzer.IncentiveOffer

	FailureReason string
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Communication records one outbound contact against the client's history.
type Communication struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ClientID   uuid.UUID
	InvoiceID  uuid.UUID
	ActionID   uuid.UUID
	Channel    analyzer.ActionType
	ProviderID string
	SentAt     time.Time
}

// BatchResult summarises one dispatch run.
type BatchResult struct {
	Processed  int
	Successful int
	Failed     int
}
