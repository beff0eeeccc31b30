package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

// GenerationRepository owns generation records, prompt analytics and daily engine rollups.
type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) DB() *sql.DB {
	return r.db
}

func (r *GenerationRepository) Insert(ctx context.Context, g *models.Generation) error {
	const query = `
INSERT INTO generations (id, user_id, prompt, prompt_hash, engine, settings, image_url, cost, credit_source, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.Prompt, g.PromptHash, g.Engine, g.Settings, g.ImageURL, g.Cost,
		g.CreditSource, g.DurationMS, g.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

const generationColumns = `id, user_id, prompt, prompt_hash, engine, settings, image_url, cost, credit_source, duration_ms,
rating, quality_score, COALESCE(feedback, ''), downloaded, shared, edited, regenerated, used_in_project, created_at, rated_at`

func scanGeneration(row interface{ Scan(...any) error }) (*models.Generation, error) {
	var (
		g                                                    models.Generation
		rating                                               sql.NullInt64
		quality                                              sql.NullFloat64
		downloaded, shared, edited, regenerated, usedProject int
		ratedAt                                              sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Prompt, &g.PromptHash, &g.Engine, &g.Settings, &g.ImageURL, &g.Cost, &g.CreditSource, &g.DurationMS,
		&rating, &quality, &g.Feedback, &downloaded, &shared, &edited, &regenerated, &usedProject, &g.CreatedAt, &ratedAt); err != nil {
		return nil, err
	}
	if rating.Valid {
		v := int(rating.Int64)
		g.Rating = &v
	}
	if quality.Valid {
		v := quality.Float64
		g.QualityScore = &v
	}
	g.Downloaded = downloaded != 0
	g.Shared = shared != 0
	g.Edited = edited != 0
	g.Regenerated = regenerated != 0
	g.UsedInProject = usedProject != 0
	g.RatedAt = timePtr(ratedAt)
	return &g, nil
}

func (r *GenerationRepository) FindByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// SetRating stores the rating once; a second call reports false.
func (r *GenerationRepository) SetRating(ctx context.Context, id string, rating int, quality *float64, feedback string, at time.Time) (bool, error) {
	const query = `
UPDATE generations SET rating = ?, quality_score = ?, feedback = ?, rated_at = ?
WHERE id = ? AND rating IS NULL`
	var q any
	if quality != nil {
		q = *quality
	}
	res, err := r.db.ExecContext(ctx, query, rating, q, nullString(feedback), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("set rating: %w", err)
	}
	return affected(res, "set rating")
}

// flagColumns whitelists the behavioural flag columns by action name.
var flagColumns = map[string]string{
	"download":   "downloaded",
	"share":      "shared",
	"edit":       "edited",
	"regenerate": "regenerated",
	"use":        "used_in_project",
}

func FlagColumn(action string) (string, bool) {
	col, ok := flagColumns[action]
	return col, ok
}

func (r *GenerationRepository) SetFlag(ctx context.Context, id, action string) (bool, error) {
	col, ok := flagColumns[action]
	if !ok {
		return false, fmt.Errorf("unknown action %q", action)
	}
	query := `UPDATE generations SET ` + col + ` = 1 WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("set %s flag: %w", col, err)
	}
	return affected(res, "set flag")
}

// TouchPromptAnalytics counts one more generation for (hash, engine).
func (r *GenerationRepository) TouchPromptAnalytics(ctx context.Context, hash, engine, prompt string, at time.Time) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE prompt_analytics SET total_generations = total_generations + 1, updated_at = ?
WHERE prompt_hash = ? AND engine = ?`, at.UTC(), hash, engine)
		if err != nil {
			return fmt.Errorf("update prompt analytics: %w", err)
		}
		if ok, err := affected(res, "prompt analytics"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO prompt_analytics (prompt_hash, engine, prompt, total_generations, updated_at)
VALUES (?, ?, ?, 1, ?)`, hash, engine, prompt, at.UTC()); err != nil {
			return fmt.Errorf("insert prompt analytics: %w", err)
		}
		return nil
	})
}

// RecomputePromptAnalytics rebuilds the rating and behaviour aggregates for
// (hash, engine) from the raw generation rows.
func (r *GenerationRepository) RecomputePromptAnalytics(ctx context.Context, hash, engine string, at time.Time) error {
	const aggregate = `
SELECT COUNT(*),
       COUNT(rating),
       COALESCE(SUM(CASE WHEN rating = 1 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN rating = 2 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN rating = 3 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN rating = 4 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN rating = 5 THEN 1 ELSE 0 END), 0),
       COALESCE(AVG(rating), 0),
       COALESCE(SUM(downloaded), 0),
       COALESCE(SUM(shared), 0)
FROM generations WHERE prompt_hash = ? AND engine = ?`
	var (
		total, rated          int
		c                     [5]int
		avg                   float64
		downloaded, sharedCnt int
	)
	if err := r.db.QueryRowContext(ctx, aggregate, hash, engine).Scan(&total, &rated, &c[0], &c[1], &c[2], &c[3], &c[4], &avg, &downloaded, &sharedCnt); err != nil {
		return fmt.Errorf("aggregate prompt analytics: %w", err)
	}

	var successRate, downloadRate, shareRate float64
	if rated > 0 {
		successRate = float64(c[3]+c[4]) / float64(rated)
	}
	if total > 0 {
		downloadRate = float64(downloaded) / float64(total)
		shareRate = float64(sharedCnt) / float64(total)
	}

	const update = `
UPDATE prompt_analytics SET total_generations = ?, total_ratings = ?, rating_1 = ?, rating_2 = ?, rating_3 = ?, rating_4 = ?, rating_5 = ?,
avg_rating = ?, success_rate = ?, download_rate = ?, share_rate = ?, updated_at = ?
WHERE prompt_hash = ? AND engine = ?`
	if _, err := r.db.ExecContext(ctx, update, total, rated, c[0], c[1], c[2], c[3], c[4], avg, successRate, downloadRate, shareRate, at.UTC(), hash, engine); err != nil {
		return fmt.Errorf("update prompt analytics: %w", err)
	}
	return nil
}

const promptAnalyticsColumns = `prompt_hash, engine, prompt, total_generations, total_ratings, rating_1, rating_2, rating_3, rating_4, rating_5,
avg_rating, success_rate, download_rate, share_rate`

func scanPromptAnalytics(rows *sql.Rows) (models.PromptAnalytics, error) {
	var p models.PromptAnalytics
	err := rows.Scan(&p.PromptHash, &p.Engine, &p.Prompt, &p.TotalGenerations, &p.TotalRatings,
		&p.RatingCounts[0], &p.RatingCounts[1], &p.RatingCounts[2], &p.RatingCounts[3], &p.RatingCounts[4],
		&p.AvgRating, &p.SuccessRate, &p.DownloadRate, &p.ShareRate)
	return p, err
}

func (r *GenerationRepository) queryPromptAnalytics(ctx context.Context, query string, args ...any) ([]models.PromptAnalytics, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompt analytics: %w", err)
	}
	defer rows.Close()

	var out []models.PromptAnalytics
	for rows.Next() {
		p, err := scanPromptAnalytics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt analytics: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *GenerationRepository) FindPromptAnalytics(ctx context.Context, hash, engine string) (*models.PromptAnalytics, error) {
	items, err := r.queryPromptAnalytics(ctx, `SELECT `+promptAnalyticsColumns+` FROM prompt_analytics WHERE prompt_hash = ? AND engine = ?`, hash, engine)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// TopPrompts ranks prompts with at least minRatings ratings. An empty engine matches all engines.
func (r *GenerationRepository) TopPrompts(ctx context.Context, minRatings, limit int, engine string) ([]models.PromptAnalytics, error) {
	query := `SELECT ` + promptAnalyticsColumns + ` FROM prompt_analytics WHERE total_ratings >= ?`
	args := []any{minRatings}
	if engine != "" {
		query += ` AND engine = ?`
		args = append(args, engine)
	}
	query += ` ORDER BY avg_rating DESC, total_ratings DESC LIMIT ?`
	args = append(args, limit)
	return r.queryPromptAnalytics(ctx, query, args...)
}

func (r *GenerationRepository) Suggestions(ctx context.Context, keyword string, minRatings int, minAvg float64, limit int) ([]models.PromptAnalytics, error) {
	query := `SELECT ` + promptAnalyticsColumns + ` FROM prompt_analytics
WHERE total_ratings >= ? AND avg_rating >= ? AND LOWER(prompt) LIKE ?
ORDER BY avg_rating DESC, total_ratings DESC LIMIT ?`
	return r.queryPromptAnalytics(ctx, query, minRatings, minAvg, "%"+keyword+"%", limit)
}

// BumpModelPerformance adds one generation outcome to the engine's daily rollup.
func (r *GenerationRepository) BumpModelPerformance(ctx context.Context, engine, day string, success bool, durationMS int64, cost float64) error {
	failures := 0
	generations := 1
	if !success {
		failures, generations = 1, 0
	}
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE model_performance SET generations = generations + ?, failures = failures + ?, total_duration_ms = total_duration_ms + ?, total_cost = total_cost + ?
WHERE engine = ? AND day = ?`, generations, failures, durationMS, cost, engine, day)
		if err != nil {
			return fmt.Errorf("update model performance: %w", err)
		}
		if ok, err := affected(res, "model performance"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO model_performance (engine, day, generations, failures, total_duration_ms, total_cost)
VALUES (?, ?, ?, ?, ?, ?)`, engine, day, generations, failures, durationMS, cost); err != nil {
			return fmt.Errorf("insert model performance: %w", err)
		}
		return nil
	})
}

func (r *GenerationRepository) AddModelRating(ctx context.Context, engine, day string, rating int) error {
	const query = `UPDATE model_performance SET ratings = ratings + 1, rating_sum = rating_sum + ? WHERE engine = ? AND day = ?`
	if _, err := r.db.ExecContext(ctx, query, rating, engine, day); err != nil {
		return fmt.Errorf("add model rating: %w", err)
	}
	return nil
}

func (r *GenerationRepository) ListModelPerformance(ctx context.Context, sinceDay string) ([]models.ModelPerformance, error) {
	const query = `
SELECT engine, day, generations, failures, ratings, rating_sum, total_duration_ms, total_cost
FROM model_performance WHERE day >= ? ORDER BY day DESC, engine`
	rows, err := r.db.QueryContext(ctx, query, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("list model performance: %w", err)
	}
	defer rows.Close()

	var out []models.ModelPerformance
	for rows.Next() {
		var m models.ModelPerformance
		if err := rows.Scan(&m.Engine, &m.Day, &m.Generations, &m.Failures, &m.Ratings, &m.RatingSum, &m.TotalDurationMS, &m.TotalCost); err != nil {
			return nil, fmt.Errorf("scan model performance: %w", err)
		}
		if m.Ratings > 0 {
			m.AvgRating = float64(m.RatingSum) / float64(m.Ratings)
		}
		if m.Generations > 0 {
			m.AvgDurationMS = float64(m.TotalDurationMS) / float64(m.Generations)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type GenerationTotals struct {
	Generations int     `json:"total_generations"`
	Rated       int     `json:"total_ratings"`
	AvgRating   float64 `json:"avg_rating"`
	Downloads   int     `json:"downloads"`
	Shares      int     `json:"shares"`
	Users       int     `json:"unique_users"`
}

type EngineTotals struct {
	Engine      string  `json:"engine"`
	Generations int     `json:"generations"`
	Rated       int     `json:"ratings"`
	AvgRating   float64 `json:"avg_rating"`
	AvgCost     float64 `json:"avg_cost"`
	AvgDuration float64 `json:"avg_duration_ms"`
}

func (r *GenerationRepository) Totals(ctx context.Context, since time.Time, userID int64) (GenerationTotals, error) {
	query := `
SELECT COUNT(*), COUNT(rating), COALESCE(AVG(rating), 0), COALESCE(SUM(downloaded), 0), COALESCE(SUM(shared), 0), COUNT(DISTINCT user_id)
FROM generations WHERE created_at >= ?`
	args := []any{since.UTC()}
	if userID > 0 {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	var t GenerationTotals
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&t.Generations, &t.Rated, &t.AvgRating, &t.Downloads, &t.Shares, &t.Users); err != nil {
		return GenerationTotals{}, fmt.Errorf("generation totals: %w", err)
	}
	return t, nil
}

func (r *GenerationRepository) EngineTotals(ctx context.Context, since time.Time, userID int64) ([]EngineTotals, error) {
	query := `
SELECT engine, COUNT(*), COUNT(rating), COALESCE(AVG(rating), 0), COALESCE(AVG(cost), 0), COALESCE(AVG(duration_ms), 0)
FROM generations WHERE created_at >= ?`
	args := []any{since.UTC()}
	if userID > 0 {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY engine ORDER BY COUNT(*) DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("engine totals: %w", err)
	}
	defer rows.Close()

	var out []EngineTotals
	for rows.Next() {
		var e EngineTotals
		if err := rows.Scan(&e.Engine, &e.Generations, &e.Rated, &e.AvgRating, &e.AvgCost, &e.AvgDuration); err != nil {
			return nil, fmt.Errorf("scan engine totals: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
