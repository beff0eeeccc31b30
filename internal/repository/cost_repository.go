package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

// CostRepository is the append-only cost and revenue ledger plus recorded alerts.
type CostRepository struct {
	db *sql.DB
}

func NewCostRepository(db *sql.DB) *CostRepository {
	return &CostRepository{db: db}
}

func (r *CostRepository) InsertCost(ctx context.Context, c *models.APICost) error {
	const query = `
INSERT INTO api_costs (user_id, api_service, operation, cost, success, request_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, c.UserID, c.Service, c.Operation, c.Cost, boolToInt(c.Success), nullString(c.RequestID), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert api cost: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (r *CostRepository) InsertRevenue(ctx context.Context, rev *models.Revenue) error {
	const query = `INSERT INTO revenue (user_id, amount, type, description, created_at) VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, rev.UserID, rev.Amount, rev.Type, nullString(rev.Description), rev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert revenue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rev.ID = id
	return nil
}

type CostSummary struct {
	TotalCost   float64
	Requests    int
	UniqueUsers int
}

func (r *CostRepository) CostBetween(ctx context.Context, from, to time.Time) (CostSummary, error) {
	const query = `
SELECT COALESCE(SUM(cost), 0), COUNT(*), COUNT(DISTINCT user_id)
FROM api_costs WHERE created_at >= ? AND created_at < ?`
	var s CostSummary
	if err := r.db.QueryRowContext(ctx, query, from.UTC(), to.UTC()).Scan(&s.TotalCost, &s.Requests, &s.UniqueUsers); err != nil {
		return CostSummary{}, fmt.Errorf("sum api costs: %w", err)
	}
	return s, nil
}

func (r *CostRepository) RevenueBetween(ctx context.Context, from, to time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM revenue WHERE created_at >= ? AND created_at < ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, from.UTC(), to.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum revenue: %w", err)
	}
	return total, nil
}

type CostBreakdownRow struct {
	Service   string  `json:"service"`
	Operation string  `json:"operation"`
	Requests  int     `json:"requests"`
	TotalCost float64 `json:"total_cost"`
	AvgCost   float64 `json:"avg_cost"`
	Failures  int     `json:"failures"`
}

func (r *CostRepository) Breakdown(ctx context.Context, since time.Time) ([]CostBreakdownRow, error) {
	const query = `
SELECT api_service, operation, COUNT(*), COALESCE(SUM(cost), 0), COALESCE(AVG(cost), 0),
       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
FROM api_costs WHERE created_at >= ?
GROUP BY api_service, operation
ORDER BY SUM(cost) DESC`
	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("cost breakdown: %w", err)
	}
	defer rows.Close()

	var out []CostBreakdownRow
	for rows.Next() {
		var b CostBreakdownRow
		if err := rows.Scan(&b.Service, &b.Operation, &b.Requests, &b.TotalCost, &b.AvgCost, &b.Failures); err != nil {
			return nil, fmt.Errorf("scan cost breakdown: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type UserCost struct {
	UserID    int64   `json:"user_id"`
	Requests  int     `json:"requests"`
	TotalCost float64 `json:"total_cost"`
	Revenue   float64 `json:"revenue"`
	Profit    float64 `json:"profit"`
}

func (r *CostRepository) TopUsers(ctx context.Context, since time.Time, limit int) ([]UserCost, error) {
	const query = `
SELECT c.user_id, COUNT(*), COALESCE(SUM(c.cost), 0),
       COALESCE((SELECT SUM(rv.amount) FROM revenue rv WHERE rv.user_id = c.user_id AND rv.created_at >= ?), 0)
FROM api_costs c
WHERE c.user_id IS NOT NULL AND c.created_at >= ?
GROUP BY c.user_id
ORDER BY SUM(c.cost) DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, since.UTC(), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("top user costs: %w", err)
	}
	defer rows.Close()

	var out []UserCost
	for rows.Next() {
		var u UserCost
		if err := rows.Scan(&u.UserID, &u.Requests, &u.TotalCost, &u.Revenue); err != nil {
			return nil, fmt.Errorf("scan user cost: %w", err)
		}
		u.Profit = u.Revenue - u.TotalCost
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecordAlert stores the alert unless one with the same level, metric and
// bucket exists. It reports whether a new row was written.
func (r *CostRepository) RecordAlert(ctx context.Context, a *models.CostAlert) (bool, error) {
	created := false
	err := InTx(ctx, r.db, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM cost_alerts WHERE level = ? AND metric = ? AND bucket = ?`,
			string(a.Level), a.Metric, a.Bucket).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check alert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cost_alerts (level, metric, bucket, message, value, threshold, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, string(a.Level), a.Metric, a.Bucket, a.Message, a.Value, a.Threshold, a.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (r *CostRepository) ListAlerts(ctx context.Context, limit int) ([]models.CostAlert, error) {
	const query = `
SELECT level, metric, bucket, message, value, threshold, created_at
FROM cost_alerts ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.CostAlert
	for rows.Next() {
		var (
			a     models.CostAlert
			level string
		)
		if err := rows.Scan(&level, &a.Metric, &a.Bucket, &a.Message, &a.Value, &a.Threshold, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Level = models.AlertLevel(level)
		out = append(out, a)
	}
	return out, rows.Err()
}
