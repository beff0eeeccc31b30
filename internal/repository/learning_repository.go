package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

type LearningRepository struct {
	db *sql.DB
}

func NewLearningRepository(db *sql.DB) *LearningRepository {
	return &LearningRepository{db: db}
}

// InsertHarvested stores a prompt unless its content hash is already known.
func (r *LearningRepository) InsertHarvested(ctx context.Context, p *models.HarvestedPrompt) (bool, error) {
	inserted := false
	err := InTx(ctx, r.db, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM harvested_prompts WHERE prompt_hash = ?`, p.PromptHash).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check harvested prompt: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO harvested_prompts (source, source_ref, prompt, prompt_hash, engagement, image_url, metadata, harvested_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, p.Source, nullString(p.SourceRef), p.Prompt, p.PromptHash, p.Engagement, nullString(p.ImageURL),
			nullString(p.Metadata), p.HarvestedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert harvested prompt: %w", err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

const harvestedColumns = `id, source, COALESCE(source_ref, ''), prompt, prompt_hash, engagement, COALESCE(image_url, ''), COALESCE(metadata, ''), analyzed, harvested_at`

func (r *LearningRepository) queryHarvested(ctx context.Context, query string, args ...any) ([]models.HarvestedPrompt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query harvested prompts: %w", err)
	}
	defer rows.Close()

	var out []models.HarvestedPrompt
	for rows.Next() {
		var (
			p        models.HarvestedPrompt
			analyzed int
		)
		if err := rows.Scan(&p.ID, &p.Source, &p.SourceRef, &p.Prompt, &p.PromptHash, &p.Engagement, &p.ImageURL, &p.Metadata, &analyzed, &p.HarvestedAt); err != nil {
			return nil, fmt.Errorf("scan harvested prompt: %w", err)
		}
		p.Analyzed = analyzed != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *LearningRepository) ListUnanalyzed(ctx context.Context, minEngagement float64, limit int) ([]models.HarvestedPrompt, error) {
	query := `SELECT ` + harvestedColumns + ` FROM harvested_prompts WHERE analyzed = 0 AND engagement > ? ORDER BY engagement DESC LIMIT ?`
	return r.queryHarvested(ctx, query, minEngagement, limit)
}

func (r *LearningRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]models.HarvestedPrompt, error) {
	query := `SELECT ` + harvestedColumns + ` FROM harvested_prompts WHERE harvested_at >= ? ORDER BY harvested_at DESC LIMIT ?`
	return r.queryHarvested(ctx, query, since.UTC(), limit)
}

func (r *LearningRepository) MarkAnalyzed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE harvested_prompts SET analyzed = 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("mark analyzed: %w", err)
			}
		}
		return nil
	})
}

// AddPattern accumulates occurrences for (kind, value) and replaces its score.
func (r *LearningRepository) AddPattern(ctx context.Context, kind models.PatternKind, value string, occurrences int, score float64, at time.Time) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE learned_patterns SET occurrences = occurrences + ?, score = ?, last_seen = ?
WHERE kind = ? AND value = ?`, occurrences, score, at.UTC(), string(kind), value)
		if err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
		if ok, err := affected(res, "pattern"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO learned_patterns (kind, value, occurrences, score, last_seen) VALUES (?, ?, ?, ?, ?)`,
			string(kind), value, occurrences, score, at.UTC()); err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
		return nil
	})
}

// SetPattern overwrites occurrences and score for (kind, value).
func (r *LearningRepository) SetPattern(ctx context.Context, kind models.PatternKind, value string, occurrences int, score float64, at time.Time) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE learned_patterns SET occurrences = ?, score = ?, last_seen = ?
WHERE kind = ? AND value = ?`, occurrences, score, at.UTC(), string(kind), value)
		if err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
		if ok, err := affected(res, "pattern"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO learned_patterns (kind, value, occurrences, score, last_seen) VALUES (?, ?, ?, ?, ?)`,
			string(kind), value, occurrences, score, at.UTC()); err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
		return nil
	})
}

func (r *LearningRepository) ListPatterns(ctx context.Context, kind models.PatternKind, minOccurrences int, seenSince time.Time, limit int) ([]models.LearnedPattern, error) {
	const query = `
SELECT kind, value, occurrences, score, last_seen FROM learned_patterns
WHERE kind = ? AND occurrences >= ? AND last_seen >= ?
ORDER BY score DESC, occurrences DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, string(kind), minOccurrences, seenSince.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []models.LearnedPattern
	for rows.Next() {
		var (
			p models.LearnedPattern
			k string
		)
		if err := rows.Scan(&k, &p.Value, &p.Occurrences, &p.Score, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Kind = models.PatternKind(k)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *LearningRepository) StartSession(ctx context.Context, kind string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO learning_sessions (kind, status, started_at) VALUES (?, 'running', ?)`, kind, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert learning session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (r *LearningRepository) FinishSession(ctx context.Context, id int64, items, patterns int, runErr error, at time.Time) error {
	status := "completed"
	var errText any
	if runErr != nil {
		status = "failed"
		errText = runErr.Error()
	}
	const query = `
UPDATE learning_sessions SET status = ?, items_processed = ?, patterns_discovered = ?, error = ?, finished_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, items, patterns, errText, at.UTC(), id); err != nil {
		return fmt.Errorf("finish learning session: %w", err)
	}
	return nil
}

type LearningStats struct {
	TotalHarvested    int `json:"total_prompts_harvested"`
	Analyzed          int `json:"prompts_analyzed"`
	QualityIndicators int `json:"quality_indicators"`
	StylesLearned     int `json:"styles_learned"`
	StructurePatterns int `json:"structure_patterns"`
	ActiveTrends      int `json:"active_trends"`
	SessionsLastWeek  int `json:"sessions_last_week"`
	ItemsLastWeek     int `json:"items_processed_week"`
	PatternsLastWeek  int `json:"patterns_found_week"`
}

func (r *LearningRepository) Stats(ctx context.Context, now time.Time) (LearningStats, error) {
	var s LearningStats
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(analyzed), 0) FROM harvested_prompts`).Scan(&s.TotalHarvested, &s.Analyzed); err != nil {
		return s, fmt.Errorf("count harvested: %w", err)
	}

	const kinds = `
SELECT COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN kind = ? AND last_seen >= ? THEN 1 ELSE 0 END), 0)
FROM learned_patterns`
	if err := r.db.QueryRowContext(ctx, kinds, string(models.PatternQualityModifier), string(models.PatternStyle), string(models.PatternStructure),
		string(models.PatternTrending), now.Add(-72*time.Hour).UTC()).Scan(&s.QualityIndicators, &s.StylesLearned, &s.StructurePatterns, &s.ActiveTrends); err != nil {
		return s, fmt.Errorf("count patterns: %w", err)
	}

	const sessions = `
SELECT COUNT(*), COALESCE(SUM(items_processed), 0), COALESCE(SUM(patterns_discovered), 0)
FROM learning_sessions WHERE started_at >= ?`
	if err := r.db.QueryRowContext(ctx, sessions, now.Add(-7*24*time.Hour).UTC()).Scan(&s.SessionsLastWeek, &s.ItemsLastWeek, &s.PatternsLastWeek); err != nil {
		return s, fmt.Errorf("count sessions: %w", err)
	}
	return s, nil
}
