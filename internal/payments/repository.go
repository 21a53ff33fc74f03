package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for recovery events and
// billing cycles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("payments: not found")

// HasEventNear reports whether a recovery event for the invoice with the same
// amount already exists within the window around paidAt. Two feeds reporting
// the same payment land here.
func (r *Repository) HasEventNear(ctx context.Context, invoiceID uuid.UUID, amount float64, paidAt time.Time, window time.Duration) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM recovery_events
			WHERE invoice_id = $1
				AND compensates_event_id IS NULL
				AND ABS(payment_amount - $2) < 0.005
				AND paid_at BETWEEN $3 AND $4
		)`, invoiceID, amount, paidAt.Add(-window), paidAt.Add(window)).Scan(&exists)
	return exists, err
}

// InsertEvent appends a recovery event. Events are never updated.
func (r *Repository) InsertEvent(ctx context.Context, e *RecoveryEvent) error {
	var actionID, compensates pgtype.UUID
	if e.AttributedActionID != nil {
		actionID = pgtype.UUID{Bytes: *e.AttributedActionID, Valid: true}
	}
	if e.CompensatesEventID != nil {
		compensates = pgtype.UUID{Bytes: *e.CompensatesEventID, Valid: true}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recovery_events (id, org_id, invoice_id, client_id,
			payment_amount, paid_at, days_overdue,
			attribution, attributed_action_id, fee_percent, fee_amount,
			status, compensates_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`,
		e.ID, e.OrgID, e.InvoiceID, e.ClientID,
		e.PaymentAmount, e.PaidAt, e.DaysOverdue,
		string(e.Attribution), actionID, e.FeePercent, e.FeeAmount,
		string(e.Status), compensates)
	if err != nil {
		return fmt.Errorf("payments: insert event: %w", err)
	}
	return nil
}

// GetEvent loads one recovery event.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*RecoveryEvent, error) {
	var (
		e           RecoveryEvent
		attribution string
		status      string
		actionID    pgtype.UUID
		compensates pgtype.UUID
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, invoice_id, client_id,
			payment_amount, paid_at, days_overdue,
			attribution, attributed_action_id, fee_percent, fee_amount,
			status, compensates_event_id, created_at
		FROM recovery_events WHERE id = $1`, id).Scan(
		&e.ID, &e.OrgID, &e.InvoiceID, &e.ClientID,
		&e.PaymentAmount, &e.PaidAt, &e.DaysOverdue,
		&attribution, &actionID, &e.FeePercent, &e.FeeAmount,
		&status, &compensates, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Attribution = Attribution(attribution)
	e.Status = EventStatus(status)
	if actionID.Valid {
		id := uuid.UUID(actionID.Bytes)
		e.AttributedActionID = &id
	}
	if compensates.Valid {
		id := uuid.UUID(compensates.Bytes)
		e.CompensatesEventID = &id
	}
	return &e, nil
}

// AccrueCycle rolls an event into the organization's monthly cycle, creating
// the row on first touch. Compensating events pass negative amounts.
func (r *Repository) AccrueCycle(ctx context.Context, orgID uuid.UUID, month string, recovered, fee float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_cycles (org_id, month, total_recovered, total_fees, event_count, status, updated_at)
		VALUES ($1, $2, $3, $4, 1, 'pending', NOW())
		ON CONFLICT (org_id, month) DO UPDATE
		SET total_recovered = billing_cycles.total_recovered + EXCLUDED.total_recovered,
			total_fees = billing_cycles.total_fees + EXCLUDED.total_fees,
			event_count = billing_cycles.event_count + 1,
			updated_at = NOW()`,
		orgID, month, recovered, fee)
	if err != nil {
		return fmt.Errorf("payments: accrue cycle: %w", err)
	}
	return nil
}

// GetCycle loads one organization-month.
func (r *Repository) GetCycle(ctx context.Context, orgID uuid.UUID, month string) (*BillingCycle, error) {
	var (
		c      BillingCycle
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT org_id, month, total_recovered, total_fees, event_count, status, updated_at
		FROM billing_cycles WHERE org_id = $1 AND month = $2`, orgID, month).Scan(
		&c.OrgID, &c.Month, &c.TotalRecovered, &c.TotalFees, &c.EventCount, &status, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = EventStatus(status)
	return &c, nil
}
