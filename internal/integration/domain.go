package integration

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two external feeds.
type Kind string

const (
	KindAccounting Kind = "accounting"
	KindBank       Kind = "bank"
)

// Status tracks connection health. expired means token refresh failed and an
// operator needs to reconnect.
type Status string

const (
	StatusConnected Status = "connected"
	StatusError     Status = "error"
	StatusExpired   Status = "expired"
)

// Integration is one organization's connection to an external system.
type Integration struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Kind       Kind
	Status     Status
	LastSyncAt time.Time
	LastError  string
	UpdatedAt  time.Time
}

// ExternalPayment is a payment record from the accounting system. LinkedID is
// the invoice the external system already associated, when it has one;
// otherwise matching falls back to amount.
type ExternalPayment struct {
	ExternalID string
	LinkedID   *uuid.UUID
	Amount     float64
	PaidAt     time.Time
}

// BankTransaction is one settled bank movement. Positive amounts are credits.
type BankTransaction struct {
	ExternalID  string
	Amount      float64
	PostedAt    time.Time
	Description string
}

// BankSnapshot is the feed's view of the account at sync time.
type BankSnapshot struct {
	Balance      float64
	Transactions []BankTransaction
	AsOf         time.Time
}

// SyncResult summarises one sync run. Skipped covers duplicates and records
// that matched no invoice.
type SyncResult struct {
	Fetched  int
	Recorded int
	Skipped  int
	Failed   int
}
