package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/digkill/picly/internal/metrics"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/internal/social"
)

const (
	ContentImagePost = "image_post"
	ContentText      = "text"

	dueBatchSize = 50
)

// SocialService prepares, schedules and publishes social content.
type SocialService struct {
	log       *slog.Logger
	repo      *repository.SocialRepository
	publisher social.Publisher
	gen       *GenerationService
	learning  *LearningService
	now       func() time.Time
}

// NewSocialService wires the content pipeline. gen and learning may be nil,
// in which case content is text-only and prompts are not enriched.
func NewSocialService(log *slog.Logger, repo *repository.SocialRepository, publisher social.Publisher, gen *GenerationService, learning *LearningService) *SocialService {
	return &SocialService{
		log:       log.With(slog.String("component", "social")),
		repo:      repo,
		publisher: publisher,
		gen:       gen,
		learning:  learning,
		now:       time.Now,
	}
}

type CreateContentRequest struct {
	Topic         string   `json:"topic" validate:"required,max=255"`
	Platforms     []string `json:"platforms" validate:"required,min=1,dive,required"`
	Language      string   `json:"language"`
	Quality       string   `json:"quality" validate:"omitempty,oneof=free premium"`
	ContentType   string   `json:"content_type" validate:"omitempty,oneof=image_post text"`
	GenerateImage bool     `json:"generate_image"`
}

func (s *SocialService) CreateContent(ctx context.Context, userID int64, req CreateContentRequest) (*models.ContentItem, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrMissingFields
	}
	platforms, err := normalizePlatforms(req.Platforms)
	if err != nil {
		return nil, err
	}
	lang := social.NormalizeLanguage(req.Language)
	quality := req.Quality
	if quality == "" {
		quality = "free"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentImagePost
	}

	item := &models.ContentItem{
		UserID:      userID,
		Topic:       topic,
		Platforms:   platforms,
		Language:    lang,
		Quality:     quality,
		ContentType: contentType,
		Caption:     social.Caption(topic, lang),
		Hashtags:    social.Hashtags(topic, lang, platforms),
		Status:      models.ContentDraft,
		CreatedAt:   s.now(),
	}

	if req.GenerateImage && contentType == ContentImagePost && s.gen != nil {
		res, err := s.generateImage(ctx, userID, topic, quality, platforms)
		if err != nil {
			return nil, fmt.Errorf("generate content image: %w", err)
		}
		item.MediaURL = res.ImageURL
	}

	if err := s.repo.CreateContent(ctx, item); err != nil {
		return nil, err
	}
	s.log.Info("content created", "content_id", item.ID, "user_id", userID, "platforms", strings.Join(platforms, ","))
	return item, nil
}

func normalizePlatforms(in []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		if !social.Supported(p) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoPlatforms
	}
	return out, nil
}

func (s *SocialService) generateImage(ctx context.Context, userID int64, topic, quality string, platforms []string) (*GenerateResult, error) {
	prompt := topic + ", professional social media content, high quality, engaging, vibrant colors, perfect composition"
	if s.learning != nil {
		if sug, err := s.learning.EnhancementSuggestions(ctx, prompt); err == nil {
			prompt = enrichPrompt(prompt, sug)
		} else {
			s.log.Warn("enhancement suggestions unavailable", "err", err)
		}
	}
	w, h := social.Dimensions(platforms)
	engine := EngineAuto
	if quality == "premium" {
		engine = provider.EngineDalle
	}
	return s.gen.Generate(ctx, userID, GenerateRequest{Prompt: prompt, Engine: engine, Width: w, Height: h})
}

// enrichPrompt appends up to three learned quality modifiers and the top style.
func enrichPrompt(prompt string, sug *Suggestions) string {
	var extra []string
	for i, m := range sug.QualityModifiers {
		if i == 3 {
			break
		}
		extra = append(extra, m.Term)
	}
	if len(sug.StyleSuggestions) > 0 {
		extra = append(extra, sug.StyleSuggestions[0].Style+" style")
	}
	if len(extra) == 0 {
		return prompt
	}
	return prompt + ", " + strings.Join(extra, ", ")
}

func (s *SocialService) owned(ctx context.Context, userID, contentID int64) (*models.ContentItem, error) {
	item, err := s.repo.FindContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item == nil || (userID != 0 && item.UserID != userID) {
		return nil, ErrContentNotFound
	}
	return item, nil
}

func (s *SocialService) ListContent(ctx context.Context, userID int64, limit int) ([]models.ContentItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListContent(ctx, userID, limit)
}

// Schedule queues content for ProcessScheduled. A userID of 0 skips the ownership check.
func (s *SocialService) Schedule(ctx context.Context, userID, contentID int64, at time.Time) (*models.ContentItem, error) {
	item, err := s.owned(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.ContentPosted {
		return nil, ErrAlreadyPosted
	}
	if err := s.repo.Schedule(ctx, contentID, at); err != nil {
		return nil, err
	}
	at = at.UTC()
	item.Status = models.ContentPending
	item.ScheduledFor = &at
	item.LastError = ""
	return item, nil
}

// AutoPost publishes content to every platform it targets right away.
func (s *SocialService) AutoPost(ctx context.Context, userID, contentID int64) ([]models.PostedContent, error) {
	item, err := s.owned(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.ContentPosted {
		return nil, ErrAlreadyPosted
	}
	return s.publish(ctx, item)
}

// publish sends the item to each target platform it has not reached yet.
func (s *SocialService) publish(ctx context.Context, item *models.ContentItem) ([]models.PostedContent, error) {
	done, err := s.repo.PostedPlatforms(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, p := range item.Platforms {
		if !done[p] {
			pending = append(pending, p)
		}
	}

	creds := make(map[string]social.Credential, len(pending))
	for _, p := range pending {
		c, err := s.repo.FindCredential(ctx, p)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, &NoCredentialsError{Platform: p}
		}
		creds[p] = social.Credential{Platform: p, Endpoint: c.Endpoint, AccessToken: c.AccessToken, AccountID: c.AccountID}
	}

	var (
		posted []models.PostedContent
		errs   []error
	)
	for _, p := range pending {
		cred := creds[p]
		tags := item.Hashtags[p]
		post := social.Post{
			Platform:  p,
			AccountID: cred.AccountID,
			Text:      social.Format(p, item.Caption, tags),
			Hashtags:  tags,
			MediaURL:  item.MediaURL,
		}
		if p == social.Instagram && len(tags) > 10 {
			post.FirstComment = strings.Join(tags, " ")
		}

		res, err := s.publisher.Publish(ctx, cred, post)
		if err != nil {
			metrics.SocialPosts.WithLabelValues(p, "failed").Inc()
			s.log.Warn("publish failed", "content_id", item.ID, "platform", p, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		metrics.SocialPosts.WithLabelValues(p, "posted").Inc()
		pc := models.PostedContent{
			ContentID:  item.ID,
			Platform:   p,
			ExternalID: res.PostID,
			URL:        res.PostURL,
			PostedAt:   s.now(),
		}
		if err := s.repo.InsertPosted(ctx, &pc); err != nil {
			return posted, err
		}
		posted = append(posted, pc)
	}

	if len(errs) > 0 {
		cause := errors.Join(errs...)
		if err := s.repo.MarkFailed(context.WithoutCancel(ctx), item.ID, cause.Error()); err != nil {
			s.log.Error("failed to mark content failed", "content_id", item.ID, "err", err)
		}
		return posted, fmt.Errorf("publish content %d: %w", item.ID, cause)
	}
	if err := s.repo.MarkPosted(ctx, item.ID, s.now()); err != nil {
		return posted, err
	}
	s.log.Info("content posted", "content_id", item.ID, "platforms", len(posted), "skipped", len(done))
	return posted, nil
}

// ProcessScheduled publishes pending content whose time has come.
func (s *SocialService) ProcessScheduled(ctx context.Context, now time.Time) (posted, failed int, err error) {
	due, err := s.repo.ListDue(ctx, now, dueBatchSize)
	if err != nil {
		return 0, 0, err
	}
	for i := range due {
		item := &due[i]
		if _, err := s.publish(ctx, item); err != nil {
			var noCreds *NoCredentialsError
			if errors.As(err, &noCreds) {
				if mErr := s.repo.MarkFailed(ctx, item.ID, err.Error()); mErr != nil {
					return posted, failed, mErr
				}
			}
			failed++
			continue
		}
		posted++
	}
	if len(due) > 0 {
		s.log.Info("scheduled content processed", "posted", posted, "failed", failed)
	}
	return posted, failed, nil
}

type CredentialsRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	Endpoint    string `json:"endpoint" validate:"required,url"`
	AccountID   string `json:"account_id"`
}

func (s *SocialService) SaveCredentials(ctx context.Context, platform string, req CredentialsRequest) error {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if !social.Supported(platform) {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	if req.AccessToken == "" || req.Endpoint == "" {
		return ErrMissingFields
	}
	return s.repo.SaveCredential(ctx, &models.PlatformCredential{
		Platform:    platform,
		AccessToken: req.AccessToken,
		Endpoint:    req.Endpoint,
		AccountID:   req.AccountID,
		UpdatedAt:   s.now(),
	})
}

type EngagementInput struct {
	Likes    int `json:"likes" validate:"gte=0"`
	Shares   int `json:"shares" validate:"gte=0"`
	Comments int `json:"comments" validate:"gte=0"`
	Views    int `json:"views" validate:"gte=0"`
}

func (s *SocialService) RecordEngagement(ctx context.Context, postID int64, in EngagementInput) error {
	ok, err := s.repo.UpdateEngagement(ctx, postID, in.Likes, in.Shares, in.Comments, in.Views, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrPostNotFound
	}
	return nil
}

type PlatformEngagement struct {
	Posts          int     `json:"posts"`
	Likes          int     `json:"likes"`
	Shares         int     `json:"shares"`
	Comments       int     `json:"comments"`
	Views          int     `json:"views"`
	EngagementRate float64 `json:"engagement_rate"`
}

type SocialReport struct {
	Days       int                            `json:"days"`
	TotalPosts int                            `json:"total_posts"`
	Platforms  map[string]*PlatformEngagement `json:"platforms"`
	TopPosts   []models.PostedContent         `json:"top_posts"`
}

// AnalyticsReport sums engagement per platform over the last days. The
// engagement rate is (likes+shares+comments)/views as a percentage.
func (s *SocialService) AnalyticsReport(ctx context.Context, days int) (*SocialReport, error) {
	if days <= 0 {
		days = 7
	}
	posts, err := s.repo.ListPosted(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	rep := &SocialReport{Days: days, TotalPosts: len(posts), Platforms: map[string]*PlatformEngagement{}, TopPosts: []models.PostedContent{}}
	for _, p := range posts {
		pe, ok := rep.Platforms[p.Platform]
		if !ok {
			pe = &PlatformEngagement{}
			rep.Platforms[p.Platform] = pe
		}
		pe.Posts++
		pe.Likes += p.Likes
		pe.Shares += p.Shares
		pe.Comments += p.Comments
		pe.Views += p.Views
	}
	for _, pe := range rep.Platforms {
		if pe.Views > 0 {
			pe.EngagementRate = float64(pe.Likes+pe.Shares+pe.Comments) / float64(pe.Views) * 100
		}
	}

	top := append([]models.PostedContent{}, posts...)
	score := func(p models.PostedContent) int { return p.Likes + p.Shares + p.Comments }
	sort.SliceStable(top, func(i, j int) bool { return score(top[i]) > score(top[j]) })
	if len(top) > 5 {
		top = top[:5]
	}
	rep.TopPosts = append(rep.TopPosts, top...)
	return rep, nil
}
