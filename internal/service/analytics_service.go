package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

// PromptHash is the sha256 of the trimmed, lower-cased prompt.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return hex.EncodeToString(sum[:])
}

type AnalyticsService struct {
	log         *slog.Logger
	generations *repository.GenerationRepository
	optimizer   *OptimizerService
	now         func() time.Time
}

func NewAnalyticsService(log *slog.Logger, generations *repository.GenerationRepository, optimizer *OptimizerService) *AnalyticsService {
	return &AnalyticsService{
		log:         log.With(slog.String("component", "analytics")),
		generations: generations,
		optimizer:   optimizer,
		now:         time.Now,
	}
}

type GenerationRecord struct {
	// ID is allocated when empty.
	ID           string
	UserID       int64
	Prompt       string
	Engine       string
	Settings     map[string]any
	ImageURL     string
	Cost         float64
	CreditSource models.CreditSource
	Duration     time.Duration
}

func (s *AnalyticsService) RecordGeneration(ctx context.Context, rec GenerationRecord) (*models.Generation, error) {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	now := s.now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	g := &models.Generation{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Prompt:       rec.Prompt,
		PromptHash:   PromptHash(rec.Prompt),
		Engine:       rec.Engine,
		Settings:     string(settings),
		ImageURL:     rec.ImageURL,
		Cost:         rec.Cost,
		CreditSource: string(rec.CreditSource),
		DurationMS:   rec.Duration.Milliseconds(),
		CreatedAt:    now,
	}
	if err := s.generations.Insert(ctx, g); err != nil {
		return nil, err
	}
	if err := s.generations.TouchPromptAnalytics(ctx, g.PromptHash, g.Engine, g.Prompt, now); err != nil {
		return g, err
	}
	if err := s.generations.BumpModelPerformance(ctx, g.Engine, today(now), true, g.DurationMS, g.Cost); err != nil {
		return g, err
	}
	return g, nil
}

// RecordFailure counts a failed provider call in the engine's daily rollup.
func (s *AnalyticsService) RecordFailure(ctx context.Context, engine string, duration time.Duration) error {
	return s.generations.BumpModelPerformance(ctx, engine, today(s.now()), false, duration.Milliseconds(), 0)
}

type RatingInput struct {
	Rating       int
	QualityScore *float64
	Feedback     string
}

func (s *AnalyticsService) SubmitRating(ctx context.Context, userID int64, generationID string, in RatingInput) (*models.PromptAnalytics, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if in.QualityScore != nil && (*in.QualityScore < 0 || *in.QualityScore > 100) {
		return nil, fmt.Errorf("quality score must be between 0 and 100")
	}
	g, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.UserID != userID {
		return nil, ErrGenerationNotFound
	}

	now := s.now()
	ok, err := s.generations.SetRating(ctx, generationID, in.Rating, in.QualityScore, in.Feedback, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}
	if err := s.generations.RecomputePromptAnalytics(ctx, g.PromptHash, g.Engine, now); err != nil {
		return nil, err
	}
	if err := s.generations.AddModelRating(ctx, g.Engine, today(g.CreatedAt), in.Rating); err != nil {
		s.log.Warn("failed to add model rating", "generation_id", generationID, "err", err)
	}

	if s.optimizer != nil {
		quality := float64(in.Rating) * 20
		if in.QualityScore != nil {
			quality = *in.QualityScore
		}
		if err := s.optimizer.UpdateRating(ctx, generationID, in.Rating, quality); err != nil {
			s.log.Warn("failed to update optimizer profile", "generation_id", generationID, "err", err)
		}
	}
	return s.generations.FindPromptAnalytics(ctx, g.PromptHash, g.Engine)
}

// TrackAction sets one behavioural flag: download, share, edit, regenerate or use.
func (s *AnalyticsService) TrackAction(ctx context.Context, userID int64, generationID, action string) error {
	if _, ok := repository.FlagColumn(action); !ok {
		return ErrInvalidAction
	}
	g, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		return err
	}
	if g == nil || g.UserID != userID {
		return ErrGenerationNotFound
	}
	if _, err := s.generations.SetFlag(ctx, generationID, action); err != nil {
		return err
	}
	return s.generations.RecomputePromptAnalytics(ctx, g.PromptHash, g.Engine, s.now())
}

func (s *AnalyticsService) TopPrompts(ctx context.Context, minRatings, limit int, engine string) ([]models.PromptAnalytics, error) {
	if minRatings <= 0 {
		minRatings = 5
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.generations.TopPrompts(ctx, minRatings, limit, engine)
}

func (s *AnalyticsService) PromptSuggestions(ctx context.Context, keyword string, limit int) ([]models.PromptAnalytics, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.generations.Suggestions(ctx, strings.ToLower(strings.TrimSpace(keyword)), 3, 4.0, limit)
}

type Dashboard struct {
	Days       int                         `json:"days"`
	Overall    repository.GenerationTotals `json:"overall"`
	Engines    []repository.EngineTotals   `json:"engines"`
	Daily      []models.ModelPerformance   `json:"daily"`
	TopPrompts []models.PromptAnalytics    `json:"top_prompts"`
}

func (s *AnalyticsService) Dashboard(ctx context.Context, days int) (*Dashboard, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	totals, err := s.generations.Totals(ctx, since, 0)
	if err != nil {
		return nil, err
	}
	engines, err := s.generations.EngineTotals(ctx, since, 0)
	if err != nil {
		return nil, err
	}
	daily, err := s.generations.ListModelPerformance(ctx, today(since))
	if err != nil {
		return nil, err
	}
	top, err := s.generations.TopPrompts(ctx, 5, 10, "")
	if err != nil {
		return nil, err
	}
	return &Dashboard{Days: days, Overall: totals, Engines: engines, Daily: daily, TopPrompts: top}, nil
}

type UserStats struct {
	Totals  repository.GenerationTotals `json:"totals"`
	Engines []repository.EngineTotals   `json:"engines"`
	Recent  []models.Generation         `json:"recent"`
}

func (s *AnalyticsService) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	var epoch time.Time
	totals, err := s.generations.Totals(ctx, epoch, userID)
	if err != nil {
		return nil, err
	}
	engines, err := s.generations.EngineTotals(ctx, epoch, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.generations.ListForUser(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	return &UserStats{Totals: totals, Engines: engines, Recent: recent}, nil
}
