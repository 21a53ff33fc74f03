package ar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duepilot/duepilot/internal/scoring"
)

// Repository provides PostgreSQL backed persistence for invoices and clients.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("ar: not found")

// ErrOverpayment indicates a payment would exceed the invoice amount beyond
// tolerance.
var ErrOverpayment = errors.New("ar: payment exceeds amount due")

const invoiceColumns = `id, org_id, client_id, number, amount, amount_paid, status, due_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.OrgID, &inv.ClientID, &inv.Number,
		&inv.Amount, &inv.AmountPaid, &inv.Status, &inv.DueAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// ListOpenInvoices returns every invoice of the organization the engine
// should work: sent, viewed, partial or overdue.
func (r *Repository) ListOpenInvoices(ctx context.Context, orgID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE org_id = $1 AND status = ANY($2)
		ORDER BY due_at`, orgID, statusStrings(OpenStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// ListOpenInvoicesWithClients joins each open invoice with its payer.
func (r *Repository) ListOpenInvoicesWithClients(ctx context.Context, orgID uuid.UUID) ([]InvoiceWithClient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.org_id, i.client_id, i.number, i.amount, i.amount_paid, i.status, i.due_at, i.created_at, i.updated_at,
			c.id, c.org_id, c.name, c.email, c.phone,
			c.payment_score, c.tier, c.avg_days_to_pay, c.preferred_channel,
			c.best_contact_day, c.best_contact_hour, c.created_at, c.updated_at
		FROM invoices i
		JOIN clients c ON c.id = i.client_id
		WHERE i.org_id = $1 AND i.status = ANY($2)
		ORDER BY i.due_at`, orgID, statusStrings(OpenStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceWithClient
	for rows.Next() {
		var (
			pair        InvoiceWithClient
			contactDay  pgtype.Int4
			contactHour pgtype.Int4
		)
		inv := &pair.Invoice
		cl := &pair.Client
		if err := rows.Scan(
			&inv.ID, &inv.OrgID, &inv.ClientID, &inv.Number,
			&inv.Amount, &inv.AmountPaid, &inv.Status, &inv.DueAt,
			&inv.CreatedAt, &inv.UpdatedAt,
			&cl.ID, &cl.OrgID, &cl.Name, &cl.Email, &cl.Phone,
			&cl.PaymentScore, &cl.Tier, &cl.AvgDaysToPay, &cl.PreferredChannel,
			&contactDay, &contactHour, &cl.CreatedAt, &cl.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if contactDay.Valid {
			d := time.Weekday(contactDay.Int32)
			cl.BestContactDay = &d
		}
		if contactHour.Valid {
			h := int(contactHour.Int32)
			cl.BestContactHour = &h
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

// ListInvoicesDueBetween returns open invoices with due dates inside the
// window, for the cash-squeeze detector.
func (r *Repository) ListInvoicesDueBetween(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE org_id = $1 AND status = ANY($2) AND due_at >= $3 AND due_at <= $4
		ORDER BY due_at`, orgID, statusStrings(OpenStatuses), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// FindOpenInvoiceByAmount matches an external payment candidate to a single
// open invoice by amount within tolerance. Ambiguous matches return ErrNotFound.
func (r *Repository) FindOpenInvoiceByAmount(ctx context.Context, orgID uuid.UUID, amount, tolerance float64) (*Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE org_id = $1 AND status = ANY($2)
			AND ABS(amount - amount_paid - $3) <= $4
		ORDER BY due_at
		LIMIT 2`, orgID, statusStrings(OpenStatuses), amount, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches, err := collectInvoices(rows)
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

// ApplyPayment adds amount to the invoice's paid total and moves the status,
// guarded in SQL so concurrent appliers cannot push past the overpayment
// tolerance. newStatus must be paid or partial.
func (r *Repository) ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, newStatus InvoiceStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = amount_paid + $2, status = $3, updated_at = NOW()
		WHERE id = $1
			AND status <> 'paid'
			AND amount_paid + $2 <= amount * (1 + $4)`,
		invoiceID, amount, newStatus, OverpaymentTolerance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverpayment
	}
	return nil
}

// RefreshOverdueFlags recomputes the overdue status for sent/viewed invoices
// past their due date. Partial invoices keep their status; days overdue is
// derived, not stored.
func (r *Repository) RefreshOverdueFlags(ctx context.Context, orgID uuid.UUID, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET status = 'overdue', updated_at = NOW()
		WHERE org_id = $1 AND status IN ('sent','viewed') AND due_at < $2`, orgID, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListOrganizationIDs returns every organization with at least one open
// invoice, for per-org job fan-out.
func (r *Repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT org_id FROM invoices WHERE status = ANY($1)`, statusStrings(OpenStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetClient retrieves a client by ID.
func (r *Repository) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	var (
		cl          Client
		contactDay  pgtype.Int4
		contactHour pgtype.Int4
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, name, email, phone,
			payment_score, tier, avg_days_to_pay, preferred_channel,
			best_contact_day, best_contact_hour, created_at, updated_at
		FROM clients WHERE id = $1`, id).Scan(
		&cl.ID, &cl.OrgID, &cl.Name, &cl.Email, &cl.Phone,
		&cl.PaymentScore, &cl.Tier, &cl.AvgDaysToPay, &cl.PreferredChannel,
		&contactDay, &contactHour, &cl.CreatedAt, &cl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if contactDay.Valid {
		d := time.Weekday(contactDay.Int32)
		cl.BestContactDay = &d
	}
	if contactHour.Valid {
		h := int(contactHour.Int32)
		cl.BestContactHour = &h
	}
	return &cl, nil
}

// UpdateClientStats writes the recomputed behavioral fields.
func (r *Repository) UpdateClientStats(ctx context.Context, clientID uuid.UUID, stats ClientStats) error {
	var day, hour pgtype.Int4
	if stats.BestContactDay != nil {
		day = pgtype.Int4{Int32: int32(*stats.BestContactDay), Valid: true}
	}
	if stats.BestContactHour != nil {
		hour = pgtype.Int4{Int32: int32(*stats.BestContactHour), Valid: true}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients
		SET payment_score = $2, tier = $3, avg_days_to_pay = $4,
			best_contact_day = $5, best_contact_hour = $6, updated_at = NOW()
		WHERE id = $1`,
		clientID, stats.PaymentScore, string(stats.Tier), stats.AvgDaysToPay, day, hour)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPaidHistory returns the due/paid pairs of every settled invoice for the
// client, the input to the score recompute.
func (r *Repository) ListPaidHistory(ctx context.Context, clientID uuid.UUID) ([]scoring.PaidInvoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT due_at, updated_at
		FROM invoices
		WHERE client_id = $1 AND status = 'paid'
		ORDER BY due_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []scoring.PaidInvoice
	for rows.Next() {
		var p scoring.PaidInvoice
		if err := rows.Scan(&p.DueAt, &p.PaidAt); err != nil {
			return nil, err
		}
		history = append(history, p)
	}
	return history, rows.Err()
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(
			&inv.ID, &inv.OrgID, &inv.ClientID, &inv.Number,
			&inv.Amount, &inv.AmountPaid, &inv.Status, &inv.DueAt,
			&inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ar: scan invoices: %w", err)
	}
	return invoices, nil
}

func statusStrings(statuses []InvoiceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
