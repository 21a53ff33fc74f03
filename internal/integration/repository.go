package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duepilot/duepilot/internal/cashflow"
)

// Repository provides PostgreSQL backed persistence for integrations, the
// processed-record ledger and the daily cash series the bank sync maintains.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("integration: not found")

// Get loads one organization's integration for the kind. last_sync_at and
// last_error are NULL until the first sync completes.
func (r *Repository) Get(ctx context.Context, orgID uuid.UUID, kind Kind) (*Integration, error) {
	var (
		in        Integration
		status    string
		syncedAt  pgtype.Timestamptz
		lastError pgtype.Text
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, kind, status, last_sync_at, last_error, updated_at
		FROM integrations WHERE org_id = $1 AND kind = $2`, orgID, string(kind)).Scan(
		&in.ID, &in.OrgID, &in.Kind, &status, &syncedAt, &lastError, &in.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	in.Status = Status(status)
	if syncedAt.Valid {
		in.LastSyncAt = syncedAt.Time
	}
	if lastError.Valid {
		in.LastError = lastError.String
	}
	return &in, nil
}

// ListConnected returns the organizations with a working integration of the
// kind, for sync fan-out.
func (r *Repository) ListConnected(ctx context.Context, kind Kind) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT org_id FROM integrations WHERE kind = $1 AND status = 'connected'`, string(kind))
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

// MarkStatus records the connection outcome of a sync attempt.
func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE integrations
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`, id, string(status), lastError)
	return err
}

// RecordSync stamps a successful sync.
func (r *Repository) RecordSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE integrations
		SET status = 'connected', last_sync_at = $2, last_error = '', updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}

// WasProcessed reports whether an external record is already in the ledger.
func (r *Repository) WasProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_records
			WHERE integration_id = $1 AND external_id = $2
		)`, integrationID, externalID).Scan(&seen)
	return seen, err
}

// MarkProcessed remembers an external record so reruns skip it. Returns false
// when the record was already processed.
func (r *Repository) MarkProcessed(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO processed_records (integration_id, external_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (integration_id, external_id) DO NOTHING`, integrationID, externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertDailyCash stores one day of the organization's balance and outflow.
func (r *Repository) UpsertDailyCash(ctx context.Context, orgID uuid.UUID, day time.Time, balance, outflow float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO org_cash_days (org_id, day, balance, outflow)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, day) DO UPDATE
		SET balance = EXCLUDED.balance,
			outflow = org_cash_days.outflow + EXCLUDED.outflow`,
		orgID, day.UTC().Truncate(24*time.Hour), balance, outflow)
	return err
}

// Position assembles the detector's view of the organization's cash from the
// stored daily series. Implements the plan service's cash source.
func (r *Repository) Position(ctx context.Context, orgID uuid.UUID, historyDays int) (cashflow.Position, error) {
	now := time.Now().UTC()
	pos := cashflow.Position{AsOf: now}

	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM org_cash_days
		WHERE org_id = $1 ORDER BY day DESC LIMIT 1`, orgID).Scan(&pos.CurrentBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return pos, nil
	}
	if err != nil {
		return pos, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT -outflow FROM org_cash_days
		WHERE org_id = $1 AND day >= $2
		ORDER BY day`, orgID, now.AddDate(0, 0, -historyDays))
	if err != nil {
		return pos, err
	}
	defer rows.Close()
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return pos, err
		}
		pos.DailyOutflows = append(pos.DailyOutflows, v)
	}
	return pos, rows.Err()
}
