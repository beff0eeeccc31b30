package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

// CreditRepository stores credit reservations and the credit ledger.
type CreditRepository struct {
	db *sql.DB
	q  Querier
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db, q: db}
}

func (r *CreditRepository) DB() *sql.DB {
	return r.db
}

func (r *CreditRepository) WithTx(tx *sql.Tx) *CreditRepository {
	return &CreditRepository{db: r.db, q: tx}
}

func (r *CreditRepository) CreateReservation(ctx context.Context, res *models.CreditReservation) error {
	const query = `
INSERT INTO credit_reservations (id, user_id, source, amount, engine, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query, res.ID, res.UserID, string(res.Source), res.Amount, res.Engine, string(res.Status), res.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

const reservationColumns = `id, user_id, source, amount, engine, status, COALESCE(generation_id, ''), COALESCE(reason, ''), created_at, resolved_at`

func scanReservation(row interface{ Scan(...any) error }) (*models.CreditReservation, error) {
	var (
		res      models.CreditReservation
		source   string
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(&res.ID, &res.UserID, &source, &res.Amount, &res.Engine, &status, &res.GenerationID, &res.Reason, &res.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	res.Source = models.CreditSource(source)
	res.Status = models.ReservationStatus(status)
	res.ResolvedAt = timePtr(resolved)
	return &res, nil
}

func (r *CreditRepository) FindReservation(ctx context.Context, id string) (*models.CreditReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM credit_reservations WHERE id = ?`
	res, err := scanReservation(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return res, nil
}

// Resolve moves a reserved row to its final status. It reports false when the
// reservation was already resolved.
func (r *CreditRepository) Resolve(ctx context.Context, id string, status models.ReservationStatus, generationID, reason string, at time.Time) (bool, error) {
	const query = `
UPDATE credit_reservations SET status = ?, generation_id = ?, reason = ?, resolved_at = ?
WHERE id = ? AND status = ?`
	res, err := r.q.ExecContext(ctx, query, string(status), nullString(generationID), nullString(reason), at.UTC(), id, string(models.ReservationReserved))
	if err != nil {
		return false, fmt.Errorf("resolve reservation: %w", err)
	}
	return affected(res, "resolve reservation")
}

func (r *CreditRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.CreditReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM credit_reservations WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, string(models.ReservationReserved), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	defer rows.Close()

	var out []models.CreditReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (r *CreditRepository) AddLedger(ctx context.Context, e *models.LedgerEntry) error {
	const query = `
INSERT INTO credit_ledger (user_id, bucket, delta, reason, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.q.ExecContext(ctx, query, e.UserID, e.Bucket, e.Delta, e.Reason, nullString(e.Reference), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *CreditRepository) ListLedger(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	const query = `
SELECT id, user_id, bucket, delta, reason, COALESCE(reference, ''), created_at
FROM credit_ledger WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Bucket, &e.Delta, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
