package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duepilot/duepilot/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for action plans. The
// snapshot is stored as a versioned JSONB document; item states live in their
// own table so approval flips rows instead of rewriting the document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the plan and its items in one transaction.
func (r *Repository) Create(ctx context.Context, p *ActionPlan) error {
	snapshot, err := json.Marshal(p.Snapshot)
	if err != nil {
		return fmt.Errorf("plan: marshal snapshot: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO action_plans (id, org_id, status, snapshot,
				total_amount_at_risk, projected_recovery, projected_success_fee,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
			p.ID, p.OrgID, string(p.Status), snapshot,
			p.TotalAmountAtRisk, p.ProjectedRecovery, p.ProjectedSuccessFee)
		if err != nil {
			return fmt.Errorf("plan: insert plan: %w", err)
		}
		for _, item := range p.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO action_plan_items (plan_id, invoice_id, state)
				VALUES ($1, $2, $3)`,
				p.ID, item.InvoiceID, string(item.State)); err != nil {
				return fmt.Errorf("plan: insert item: %w", err)
			}
		}
		return nil
	})
}

// Get loads a plan with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*ActionPlan, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

// GetPending returns the organization's plan awaiting approval, if any.
func (r *Repository) GetPending(ctx context.Context, orgID uuid.UUID) (*ActionPlan, error) {
	return r.getWhere(ctx, `org_id = $1 AND status = 'pending_approval'`, orgID)
}

func (r *Repository) getWhere(ctx context.Context, where string, arg any) (*ActionPlan, error) {
	var (
		p        ActionPlan
		status   string
		snapshot []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, status, snapshot,
			total_amount_at_risk, projected_recovery, projected_success_fee,
			created_at, updated_at
		FROM action_plans
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT 1`, arg).Scan(
		&p.ID, &p.OrgID, &status, &snapshot,
		&p.TotalAmountAtRisk, &p.ProjectedRecovery, &p.ProjectedSuccessFee,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if err := json.Unmarshal(snapshot, &p.Snapshot); err != nil {
		return nil, fmt.Errorf("plan: decode snapshot: %w", err)
	}
	if p.Snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, p.Snapshot.Version, SnapshotVersion)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT invoice_id, state FROM action_plan_items WHERE plan_id = $1`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item  Item
			state string
		)
		if err := rows.Scan(&item.InvoiceID, &state); err != nil {
			return nil, err
		}
		item.State = ItemState(state)
		p.Items = append(p.Items, item)
	}
	return &p, rows.Err()
}

// UpdateStatus moves the plan between states, guarded in SQL so two approvers
// cannot race past each other.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_plans
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SupersedePending retires any still-pending plan for the organization before
// a fresh one is created.
func (r *Repository) SupersedePending(ctx context.Context, orgID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE action_plans
		SET status = 'superseded', updated_at = NOW()
		WHERE org_id = $1 AND status = 'pending_approval'`, orgID)
	return err
}

// SetItemStates flips the given invoices' items to the state.
func (r *Repository) SetItemStates(ctx context.Context, planID uuid.UUID, invoiceIDs []uuid.UUID, state ItemState) error {
	if len(invoiceIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE action_plan_items
		SET state = $3
		WHERE plan_id = $1 AND invoice_id = ANY($2)`, planID, invoiceIDs, string(state))
	return err
}

// CompleteInvoice marks the invoice's item completed in any in-progress plan
// and closes plans that now have every item completed. Called by the payment
// monitor when an invoice settles.
func (r *Repository) CompleteInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE action_plan_items i
			SET state = 'completed'
			FROM action_plans p
			WHERE i.plan_id = p.id AND p.org_id = $1 AND p.status = 'in_progress'
				AND i.invoice_id = $2 AND i.state <> 'completed'`, orgID, invoiceID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE action_plans p
			SET status = 'completed', updated_at = NOW()
			WHERE p.org_id = $1 AND p.status = 'in_progress'
				AND NOT EXISTS (
					SELECT 1 FROM action_plan_items i
					WHERE i.plan_id = p.id AND i.state <> 'completed'
				)`, orgID)
		return err
	})
}
