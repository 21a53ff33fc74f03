package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for scheduled actions,
// call tasks and the communication log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("outreach: not found")

const actionColumns = `id, org_id, plan_id, invoice_id, client_id, type, status,
	scheduled_for, subject, body, tone,
	incentive_kind, incentive_discount_pct, incentive_installments, incentive_expires_at,
	failure_reason, completed_at, created_at, updated_at`

// Schedule inserts a batch of actions in one transaction. Implements the plan
// service's scheduler port.
func (r *Repository) Schedule(ctx context.Context, actions []ScheduledAction) error {
	if len(actions) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, a := range actions {
			var (
				kind     pgtype.Text
				discount pgtype.Float8
				installs pgtype.Int4
				expires  pgtype.Timestamptz
			)
			if a.Incentive != nil {
				kind = pgtype.Text{String: string(a.Incentive.Kind), Valid: true}
				discount = pgtype.Float8{Float64: a.Incentive.DiscountPercent, Valid: true}
				installs = pgtype.Int4{Int32: int32(a.Incentive.Installments), Valid: true}
				expires = pgtype.Timestamptz{Time: a.Incentive.ExpiresAt, Valid: true}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO scheduled_actions (id, org_id, plan_id, invoice_id, client_id,
					type, status, scheduled_for, subject, body, tone,
					incentive_kind, incentive_discount_pct, incentive_installments, incentive_expires_at,
					created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())`,
				a.ID, a.OrgID, a.PlanID, a.InvoiceID, a.ClientID,
				string(a.Type), string(a.Status), a.ScheduledFor,
				a.Content.Subject, a.Content.Body, string(a.Content.Tone),
				kind, discount, installs, expires); err != nil {
				return fmt.Errorf("outreach: insert action: %w", err)
			}
		}
		return nil
	})
}

// ListDue returns scheduled actions whose time has come, oldest first, bounded
// by limit so one dispatch run stays a bounded batch.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledAction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

// Claim atomically moves the action from scheduled to in_flight. Returns false
// when another worker already took it.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = 'in_flight', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete marks an in-flight action done.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a dispatch failure with its reason.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
	return err
}

// Cancel drops an action that should no longer run.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = 'cancelled', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled','in_flight')`, id, reason)
	return err
}

// CancelPendingForInvoice cancels every not-yet-dispatched action for an
// invoice. The payment monitor calls this when the invoice settles.
func (r *Repository) CancelPendingForInvoice(ctx context.Context, invoiceID uuid.UUID, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = 'cancelled', failure_reason = $2, updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'scheduled'`, invoiceID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateCallTask queues a manual call for an operator, script included.
func (r *Repository) CreateCallTask(ctx context.Context, a ScheduledAction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_tasks (id, org_id, action_id, invoice_id, client_id, script, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', NOW())`,
		uuid.New(), a.OrgID, a.ID, a.InvoiceID, a.ClientID, a.Content.Body)
	return err
}

// RecordCommunication appends one outbound contact to the log.
func (r *Repository) RecordCommunication(ctx context.Context, c Communication) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO communications (id, org_id, client_id, invoice_id, action_id, channel, provider_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrgID, c.ClientID, c.InvoiceID, c.ActionID, string(c.Channel), c.ProviderID, c.SentAt)
	return err
}

// LastCompletedContacts returns the most recent completed contact per invoice,
// the input to contact-interval scheduling.
func (r *Repository) LastCompletedContacts(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT invoice_id, MAX(completed_at)
		FROM scheduled_actions
		WHERE org_id = $1 AND status = 'completed' AND completed_at IS NOT NULL
		GROUP BY invoice_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var (
			id uuid.UUID
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

// ListCompletedSince returns completed actions for the invoice newer than
// since, newest first. The payment monitor uses this for attribution.
func (r *Repository) ListCompletedSince(ctx context.Context, invoiceID uuid.UUID, since time.Time) ([]ScheduledAction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE invoice_id = $1 AND status = 'completed' AND completed_at >= $2
		ORDER BY completed_at DESC`, invoiceID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func collectActions(rows pgx.Rows) ([]ScheduledAction, error) {
	var actions []ScheduledAction
	for rows.Next() {
		var (
			a           ScheduledAction
			actionType  string
			status      string
			tone        string
			kind        pgtype.Text
			discount    pgtype.Float8
			installs    pgtype.Int4
			expires     pgtype.Timestamptz
			failReason  pgtype.Text
			completedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&a.ID, &a.OrgID, &a.PlanID, &a.InvoiceID, &a.ClientID,
			&actionType, &status, &a.ScheduledFor,
			&a.Content.Subject, &a.Content.Body, &tone,
			&kind, &discount, &installs, &expires,
			&failReason, &completedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Type = analyzer.ActionType(actionType)
		a.Status = ActionStatus(status)
		a.Content.Tone = Tone(tone)
		if kind.Valid {
			a.Incentive = &analyzer.IncentiveOffer{
				Kind:            analyzer.IncentiveKind(kind.String),
				DiscountPercent: discount.Float64,
				Installments:    int(installs.Int32),
				ExpiresAt:       expires.Time,
			}
		}
		if failReason.Valid {
			a.FailureReason = failReason.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			a.CompletedAt = &t
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outreach: scan actions: %w", err)
	}
	return actions, nil
}
