package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/picly/internal/models"
)

type SocialRepository struct {
	db *sql.DB
}

func NewSocialRepository(db *sql.DB) *SocialRepository {
	return &SocialRepository{db: db}
}

func (r *SocialRepository) CreateContent(ctx context.Context, c *models.ContentItem) error {
	platforms, err := json.Marshal(c.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}
	hashtags, err := json.Marshal(c.Hashtags)
	if err != nil {
		return fmt.Errorf("marshal hashtags: %w", err)
	}
	const query = `
INSERT INTO content_queue (user_id, topic, platforms, language, quality, content_type, caption, hashtags, media_url, status, scheduled_for, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, c.UserID, c.Topic, string(platforms), c.Language, c.Quality, c.ContentType, c.Caption, string(hashtags),
		nullString(c.MediaURL), string(c.Status), nullTime(c.ScheduledFor), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

const contentColumns = `id, user_id, topic, platforms, language, quality, content_type, caption, hashtags, COALESCE(media_url, ''), status,
scheduled_for, COALESCE(last_error, ''), created_at, posted_at`

func scanContent(row interface{ Scan(...any) error }) (*models.ContentItem, error) {
	var (
		c                   models.ContentItem
		platforms, hashtags string
		status              string
		scheduled, posted   sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Topic, &platforms, &c.Language, &c.Quality, &c.ContentType, &c.Caption, &hashtags, &c.MediaURL, &status,
		&scheduled, &c.LastError, &c.CreatedAt, &posted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(platforms), &c.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}
	if err := json.Unmarshal([]byte(hashtags), &c.Hashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags: %w", err)
	}
	c.Status = models.ContentStatus(status)
	c.ScheduledFor = timePtr(scheduled)
	c.PostedAt = timePtr(posted)
	return &c, nil
}

func (r *SocialRepository) FindContent(ctx context.Context, id int64) (*models.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_queue WHERE id = ?`
	c, err := scanContent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan content: %w", err)
	}
	return c, nil
}

func (r *SocialRepository) listContent(ctx context.Context, query string, args ...any) ([]models.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var out []models.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *SocialRepository) ListContent(ctx context.Context, userID int64, limit int) ([]models.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_queue WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.listContent(ctx, query, userID, limit)
}

// ListDue returns pending items whose schedule time has passed.
func (r *SocialRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_queue
WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?
ORDER BY scheduled_for LIMIT ?`
	return r.listContent(ctx, query, string(models.ContentPending), now.UTC(), limit)
}

func (r *SocialRepository) Schedule(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE content_queue SET status = ?, scheduled_for = ?, last_error = NULL WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.ContentPending), at.UTC(), id); err != nil {
		return fmt.Errorf("schedule content: %w", err)
	}
	return nil
}

func (r *SocialRepository) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE content_queue SET status = ?, posted_at = ?, last_error = NULL WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.ContentPosted), at.UTC(), id); err != nil {
		return fmt.Errorf("mark content posted: %w", err)
	}
	return nil
}

func (r *SocialRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	const query = `UPDATE content_queue SET status = ?, last_error = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.ContentFailed), reason, id); err != nil {
		return fmt.Errorf("mark content failed: %w", err)
	}
	return nil
}

func (r *SocialRepository) InsertPosted(ctx context.Context, p *models.PostedContent) error {
	const query = `
INSERT INTO posted_content (content_id, platform, external_id, url, posted_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, p.ContentID, p.Platform, nullString(p.ExternalID), nullString(p.URL), p.PostedAt.UTC(), p.PostedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert posted content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// PostedPlatforms lists the platforms a content item already went out on.
func (r *SocialRepository) PostedPlatforms(ctx context.Context, contentID int64) (map[string]bool, error) {
	const query = `SELECT DISTINCT platform FROM posted_content WHERE content_id = ?`
	rows, err := r.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("list posted platforms: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan posted platform: %w", err)
		}
		out[p] = true
	}
	return out, rows.Err()
}

func (r *SocialRepository) UpdateEngagement(ctx context.Context, postID int64, likes, shares, comments, views int, at time.Time) (bool, error) {
	const query = `UPDATE posted_content SET likes = ?, shares = ?, comments = ?, views = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, likes, shares, comments, views, at.UTC(), postID)
	if err != nil {
		return false, fmt.Errorf("update engagement: %w", err)
	}
	return affected(res, "engagement")
}

func (r *SocialRepository) ListPosted(ctx context.Context, since time.Time) ([]models.PostedContent, error) {
	const query = `
SELECT id, content_id, platform, COALESCE(external_id, ''), COALESCE(url, ''), likes, shares, comments, views, posted_at
FROM posted_content WHERE posted_at >= ? ORDER BY posted_at DESC`
	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list posted content: %w", err)
	}
	defer rows.Close()

	var out []models.PostedContent
	for rows.Next() {
		var p models.PostedContent
		if err := rows.Scan(&p.ID, &p.ContentID, &p.Platform, &p.ExternalID, &p.URL, &p.Likes, &p.Shares, &p.Comments, &p.Views, &p.PostedAt); err != nil {
			return nil, fmt.Errorf("scan posted content: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SocialRepository) SaveCredential(ctx context.Context, c *models.PlatformCredential) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE platform_credentials SET access_token = ?, endpoint = ?, account_id = ?, updated_at = ? WHERE platform = ?`,
			c.AccessToken, c.Endpoint, nullString(c.AccountID), c.UpdatedAt.UTC(), c.Platform)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		if ok, err := affected(res, "credential"); err != nil || ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO platform_credentials (platform, access_token, endpoint, account_id, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.Platform, c.AccessToken, c.Endpoint, nullString(c.AccountID), c.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	})
}

func (r *SocialRepository) FindCredential(ctx context.Context, platform string) (*models.PlatformCredential, error) {
	const query = `SELECT platform, access_token, endpoint, COALESCE(account_id, ''), updated_at FROM platform_credentials WHERE platform = ?`
	var c models.PlatformCredential
	if err := r.db.QueryRowContext(ctx, query, platform).Scan(&c.Platform, &c.AccessToken, &c.Endpoint, &c.AccountID, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}
