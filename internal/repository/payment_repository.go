package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
	q  Querier
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db, q: db}
}

func (r *PaymentRepository) DB() *sql.DB {
	return r.db
}

func (r *PaymentRepository) WithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{db: r.db, q: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, provider, provider_ref, kind, credits, amount_cents, currency, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.q.ExecContext(ctx, query, p.UserID, p.Provider, p.ProviderRef, string(p.Kind), p.Credits, p.AmountCents, p.Currency,
		string(p.Status), p.CreatedAt.UTC(), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (r *PaymentRepository) FindByProviderRef(ctx context.Context, provider, ref string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, provider, provider_ref, kind, credits, amount_cents, currency, status, created_at, updated_at
FROM payments WHERE provider = ? AND provider_ref = ? LIMIT 1`
	var (
		p      models.Payment
		kind   string
		status string
	)
	row := r.q.QueryRowContext(ctx, query, provider, ref)
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ProviderRef, &kind, &p.Credits, &p.AmountCents, &p.Currency, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Kind = models.PaymentKind(kind)
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

// MarkPaid transitions a payment to paid exactly once.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID int64, at time.Time) (bool, error) {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`
	res, err := r.q.ExecContext(ctx, query, string(models.PaymentPaid), at.UTC(), paymentID, string(models.PaymentPaid))
	if err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}
	return affected(res, "mark payment paid")
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus, at time.Time) error {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, string(status), at.UTC(), paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}
