package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent indicates a recovery event already covers a payment.
	ErrDuplicateEvent = errors.New("duplicate recovery event")
	// ErrOverpayment occurs when a payment exceeds the amount due beyond tolerance.
	ErrOverpayment = errors.New("payment exceeds amount due")
	// ErrLockHeld occurs when another worker holds the invoice lock.
	ErrLockHeld = errors.New("lock held by another worker")
	// ErrNotConfigured indicates a provider has no credentials.
	ErrNotConfigured = errors.New("provider not configured")
)
