package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

type UserRepository struct {
	db *sql.DB
	q  Querier
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, q: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: r.db, q: tx}
}

const userColumns = `id, username, email, password_hash, salt, premium_credits, free_credits_today, free_credits_reset_on,
subscription_status, subscription_expires_at, COALESCE(stripe_customer_id, ''), referral_code, referred_by,
total_generations, total_credits_purchased, created_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u          models.User
		status     string
		expires    sql.NullTime
		referredBy sql.NullInt64
		lastLogin  sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Salt, &u.PremiumCredits, &u.FreeCreditsToday, &u.FreeCreditsResetOn,
		&status, &expires, &u.StripeCustomerID, &u.ReferralCode, &referredBy,
		&u.TotalGenerations, &u.TotalCreditsPurchased, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.SubscriptionStatus = models.SubscriptionStatus(status)
	u.SubscriptionExpiresAt = timePtr(expires)
	u.LastLogin = timePtr(lastLogin)
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	return &u, nil
}

func (r *UserRepository) findOne(ctx context.Context, where string, args ...any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` LIMIT 1`
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, `id = ?`, id)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `username = ?`, username)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `email = ?`, email)
}

// FindByLogin matches either the username or the email.
func (r *UserRepository) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return r.findOne(ctx, `username = ? OR email = ?`, login, login)
}

func (r *UserRepository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.findOne(ctx, `referral_code = ?`, code)
}

func (r *UserRepository) FindByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	return r.findOne(ctx, `stripe_customer_id = ?`, customerID)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (username, email, password_hash, salt, premium_credits, free_credits_today, free_credits_reset_on,
subscription_status, referral_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if user.SubscriptionStatus == "" {
		user.SubscriptionStatus = models.SubscriptionNone
	}
	res, err := r.q.ExecContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.Salt, user.PremiumCredits,
		user.FreeCreditsToday, user.FreeCreditsResetOn, string(user.SubscriptionStatus), user.ReferralCode, user.CreatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	const query = `UPDATE users SET last_login = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, at.UTC(), userID); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// ResetFreeCredits sets the daily allowance unless it was already reset for day.
func (r *UserRepository) ResetFreeCredits(ctx context.Context, userID int64, amount int, day string) (bool, error) {
	const query = `
UPDATE users SET free_credits_today = ?, free_credits_reset_on = ?
WHERE id = ? AND free_credits_reset_on <> ?`
	res, err := r.q.ExecContext(ctx, query, amount, day, userID, day)
	if err != nil {
		return false, fmt.Errorf("reset free credits: %w", err)
	}
	return affected(res, "reset free credits")
}

func (r *UserRepository) ConsumeFreeCredits(ctx context.Context, userID int64, amount int) (bool, error) {
	const query = `
UPDATE users SET free_credits_today = free_credits_today - ?
WHERE id = ? AND free_credits_today >= ?`
	res, err := r.q.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("consume free credits: %w", err)
	}
	return affected(res, "free credits")
}

func (r *UserRepository) ConsumePremiumCredits(ctx context.Context, userID int64, amount int) (bool, error) {
	const query = `
UPDATE users SET premium_credits = premium_credits - ?
WHERE id = ? AND premium_credits >= ?`
	res, err := r.q.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("consume premium credits: %w", err)
	}
	return affected(res, "premium credits")
}

func (r *UserRepository) AddFreeCredits(ctx context.Context, userID int64, amount int) error {
	const query = `UPDATE users SET free_credits_today = free_credits_today + ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("add free credits: %w", err)
	}
	return nil
}

func (r *UserRepository) AddPremiumCredits(ctx context.Context, userID int64, amount int) error {
	const query = `UPDATE users SET premium_credits = premium_credits + ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("add premium credits: %w", err)
	}
	return nil
}

// AddPurchasedCredits credits a paid pack and tracks the lifetime purchase total.
func (r *UserRepository) AddPurchasedCredits(ctx context.Context, userID int64, amount int) error {
	const query = `
UPDATE users SET premium_credits = premium_credits + ?, total_credits_purchased = total_credits_purchased + ?
WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, amount, amount, userID); err != nil {
		return fmt.Errorf("add purchased credits: %w", err)
	}
	return nil
}

// SetReferredBy records the referrer once; later calls report false.
func (r *UserRepository) SetReferredBy(ctx context.Context, userID, referrerID int64) (bool, error) {
	const query = `UPDATE users SET referred_by = ? WHERE id = ? AND referred_by IS NULL`
	res, err := r.q.ExecContext(ctx, query, referrerID, userID)
	if err != nil {
		return false, fmt.Errorf("set referred by: %w", err)
	}
	return affected(res, "referred by")
}

func (r *UserRepository) UpdateSubscription(ctx context.Context, userID int64, status models.SubscriptionStatus, expiresAt *time.Time) error {
	const query = `UPDATE users SET subscription_status = ?, subscription_expires_at = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, string(status), nullTime(expiresAt), userID); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *UserRepository) SetSubscriptionStatus(ctx context.Context, userID int64, status models.SubscriptionStatus) error {
	const query = `UPDATE users SET subscription_status = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, string(status), userID); err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return nil
}

func (r *UserRepository) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	const query = `UPDATE users SET stripe_customer_id = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, customerID, userID); err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	return nil
}

// ExpireSubscriptions flips active subscriptions whose expiry is before now.
func (r *UserRepository) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	const query = `
UPDATE users SET subscription_status = ?
WHERE subscription_status = ? AND subscription_expires_at IS NOT NULL AND subscription_expires_at < ?`
	res, err := r.q.ExecContext(ctx, query, string(models.SubscriptionExpired), string(models.SubscriptionActive), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions rows affected: %w", err)
	}
	return n, nil
}

func (r *UserRepository) IncrementGenerations(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET total_generations = total_generations + 1 WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("increment generations: %w", err)
	}
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
