package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

// EngineProfileRepository backs the quality optimizer.
type EngineProfileRepository struct {
	db *sql.DB
}

func NewEngineProfileRepository(db *sql.DB) *EngineProfileRepository {
	return &EngineProfileRepository{db: db}
}

type PerformanceEntry struct {
	GenerationID   string
	Engine         string
	SettingsHash   string
	SettingsJSON   string
	Category       string
	GenerationTime float64
	Cost           float64
	CreatedAt      time.Time
}

// LogPerformance records one generation and folds it into the running
// averages of its (engine, settings) profile.
func (r *EngineProfileRepository) LogPerformance(ctx context.Context, e PerformanceEntry) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO generation_performance (generation_id, engine, settings_hash, category, generation_time, cost, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, e.GenerationID, e.Engine, e.SettingsHash, e.Category, e.GenerationTime, e.Cost, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert generation performance: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
UPDATE engine_profiles SET
    avg_generation_time = (avg_generation_time * total_uses + ?) / (total_uses + 1),
    avg_cost = (avg_cost * total_uses + ?) / (total_uses + 1),
    total_uses = total_uses + 1,
    last_used = ?
WHERE engine = ? AND settings_hash = ?`, e.GenerationTime, e.Cost, e.CreatedAt.UTC(), e.Engine, e.SettingsHash)
		if err != nil {
			return fmt.Errorf("update engine profile: %w", err)
		}
		if ok, err := affected(res, "engine profile"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO engine_profiles (engine, settings_hash, settings_json, total_uses, avg_generation_time, avg_cost, last_used)
VALUES (?, ?, ?, 1, ?, ?, ?)`, e.Engine, e.SettingsHash, e.SettingsJSON, e.GenerationTime, e.Cost, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert engine profile: %w", err)
		}
		return nil
	})
}

func (r *EngineProfileRepository) FindPerformance(ctx context.Context, generationID string) (*PerformanceEntry, error) {
	const query = `
SELECT generation_id, engine, settings_hash, category, generation_time, cost, created_at
FROM generation_performance WHERE generation_id = ?`
	var e PerformanceEntry
	if err := r.db.QueryRowContext(ctx, query, generationID).Scan(&e.GenerationID, &e.Engine, &e.SettingsHash, &e.Category, &e.GenerationTime, &e.Cost, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation performance: %w", err)
	}
	return &e, nil
}

func (r *EngineProfileRepository) RatePerformance(ctx context.Context, generationID string, rating int, quality float64) error {
	const query = `UPDATE generation_performance SET rating = ?, quality_score = ? WHERE generation_id = ?`
	if _, err := r.db.ExecContext(ctx, query, rating, quality, generationID); err != nil {
		return fmt.Errorf("rate generation performance: %w", err)
	}
	return nil
}

// RatedStats aggregates the rated generations of one profile.
type RatedStats struct {
	Samples     int
	AvgRating   float64
	AvgQuality  float64
	AvgTime     float64
	AvgCost     float64
	SuccessRate float64
}

func (r *EngineProfileRepository) RatedStats(ctx context.Context, engine, settingsHash string) (RatedStats, error) {
	const query = `
SELECT COUNT(*),
       COALESCE(AVG(rating), 0),
       COALESCE(AVG(quality_score), 0),
       COALESCE(AVG(generation_time), 0),
       COALESCE(AVG(cost), 0),
       COALESCE(SUM(CASE WHEN rating >= 4 THEN 1 ELSE 0 END), 0)
FROM generation_performance
WHERE engine = ? AND settings_hash = ? AND rating IS NOT NULL`
	var (
		s    RatedStats
		good int
	)
	if err := r.db.QueryRowContext(ctx, query, engine, settingsHash).Scan(&s.Samples, &s.AvgRating, &s.AvgQuality, &s.AvgTime, &s.AvgCost, &good); err != nil {
		return RatedStats{}, fmt.Errorf("rated stats: %w", err)
	}
	if s.Samples > 0 {
		s.SuccessRate = float64(good) * 100 / float64(s.Samples)
	}
	return s, nil
}

func (r *EngineProfileRepository) UpdateScores(ctx context.Context, p models.EngineProfile) error {
	const query = `
UPDATE engine_profiles SET avg_rating = ?, avg_quality_score = ?, success_rate = ?, quality_per_dollar = ?, quality_per_second = ?, overall_score = ?
WHERE engine = ? AND settings_hash = ?`
	if _, err := r.db.ExecContext(ctx, query, p.AvgRating, p.AvgQualityScore, p.SuccessRate, p.QualityPerDollar, p.QualityPerSecond, p.OverallScore,
		p.Engine, p.SettingsHash); err != nil {
		return fmt.Errorf("update engine scores: %w", err)
	}
	return nil
}

func (r *EngineProfileRepository) ListProfiles(ctx context.Context, minUses int) ([]models.EngineProfile, error) {
	const query = `
SELECT engine, settings_hash, settings_json, total_uses, avg_rating, avg_quality_score, avg_generation_time, avg_cost,
       success_rate, quality_per_dollar, quality_per_second, overall_score, last_used
FROM engine_profiles WHERE total_uses >= ? ORDER BY overall_score DESC`
	rows, err := r.db.QueryContext(ctx, query, minUses)
	if err != nil {
		return nil, fmt.Errorf("list engine profiles: %w", err)
	}
	defer rows.Close()

	var out []models.EngineProfile
	for rows.Next() {
		var p models.EngineProfile
		if err := rows.Scan(&p.Engine, &p.SettingsHash, &p.SettingsJSON, &p.TotalUses, &p.AvgRating, &p.AvgQualityScore, &p.AvgGenerationTime,
			&p.AvgCost, &p.SuccessRate, &p.QualityPerDollar, &p.QualityPerSecond, &p.OverallScore, &p.LastUsed); err != nil {
			return nil, fmt.Errorf("scan engine profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *EngineProfileRepository) FindProfile(ctx context.Context, engine, settingsHash string) (*models.EngineProfile, error) {
	const query = `
SELECT engine, settings_hash, settings_json, total_uses, avg_rating, avg_quality_score, avg_generation_time, avg_cost,
       success_rate, quality_per_dollar, quality_per_second, overall_score, last_used
FROM engine_profiles WHERE engine = ? AND settings_hash = ?`
	var p models.EngineProfile
	if err := r.db.QueryRowContext(ctx, query, engine, settingsHash).Scan(&p.Engine, &p.SettingsHash, &p.SettingsJSON, &p.TotalUses, &p.AvgRating,
		&p.AvgQualityScore, &p.AvgGenerationTime, &p.AvgCost, &p.SuccessRate, &p.QualityPerDollar, &p.QualityPerSecond, &p.OverallScore, &p.LastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan engine profile: %w", err)
	}
	return &p, nil
}

// CategoryLeader is the best-rated (engine, settings) within a prompt category.
type CategoryLeader struct {
	Category     string  `json:"category"`
	Engine       string  `json:"engine"`
	SettingsJSON string  `json:"settings"`
	AvgRating    float64 `json:"avg_rating"`
	Samples      int     `json:"samples"`
}

func (r *EngineProfileRepository) CategoryLeaders(ctx context.Context) ([]CategoryLeader, error) {
	const query = `
SELECT gp.category, gp.engine, ep.settings_json, AVG(gp.rating), COUNT(*)
FROM generation_performance gp
JOIN engine_profiles ep ON ep.engine = gp.engine AND ep.settings_hash = gp.settings_hash
WHERE gp.rating IS NOT NULL
GROUP BY gp.category, gp.engine, gp.settings_hash, ep.settings_json
ORDER BY gp.category, AVG(gp.rating) DESC, COUNT(*) DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("category leaders: %w", err)
	}
	defer rows.Close()

	var out []CategoryLeader
	seen := map[string]bool{}
	for rows.Next() {
		var l CategoryLeader
		if err := rows.Scan(&l.Category, &l.Engine, &l.SettingsJSON, &l.AvgRating, &l.Samples); err != nil {
			return nil, fmt.Errorf("scan category leader: %w", err)
		}
		if seen[l.Category] {
			continue
		}
		seen[l.Category] = true
		out = append(out, l)
	}
	return out, rows.Err()
}
