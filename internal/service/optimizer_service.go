package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/repository"
)

const (
	optimizerMinSamples = 10
	optimizerCacheTTL   = 6 * time.Hour
	categoryGeneral     = "general"
)

// promptCategories is ordered so ties resolve to the earlier category.
var promptCategories = []struct {
	name     string
	keywords []string
}{
	{"portrait", []string{"portrait", "face", "person", "selfie", "headshot", "character"}},
	{"landscape", []string{"landscape", "scenery", "nature", "mountain", "forest", "ocean", "sky"}},
	{"product", []string{"product", "commercial", "advertisement", "packaging", "logo"}},
	{"artistic", []string{"art", "painting", "artistic", "abstract", "creative", "surreal"}},
	{"photorealistic", []string{"realistic", "photorealistic", "photo", "real", "cinematic"}},
	{"illustration", []string{"illustration", "cartoon", "drawing", "sketch", "anime", "comic"}},
	{"architecture", []string{"building", "architecture", "interior", "room", "house"}},
	{"fantasy", []string{"fantasy", "magical", "dragon", "wizard", "mythical"}},
}

// Categorize picks the category whose keywords occur most often in prompt.
func Categorize(prompt string) string {
	lower := strings.ToLower(prompt)
	best, bestCount := categoryGeneral, 0
	for _, c := range promptCategories {
		count := 0
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = c.name, count
		}
	}
	return best
}

// SettingsHash is the md5 of the settings encoded with sorted keys.
func SettingsHash(settings map[string]any) (string, string) {
	raw, err := json.Marshal(settings)
	if err != nil || settings == nil {
		raw = []byte("{}")
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:]), string(raw)
}

type Recommendation struct {
	Engine     string         `json:"engine"`
	Settings   map[string]any `json:"settings"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Category   string         `json:"category"`
}

type cachedRecommendation struct {
	rec     Recommendation
	expires time.Time
}

// recommendationCache holds one recommendation per prompt category.
type recommendationCache struct {
	mu      sync.RWMutex
	entries map[string]cachedRecommendation
}

func newRecommendationCache() *recommendationCache {
	return &recommendationCache{entries: make(map[string]cachedRecommendation)}
}

func (c *recommendationCache) Get(category string, now time.Time) (Recommendation, bool) {
	c.mu.RLock()
	entry, ok := c.entries[category]
	c.mu.RUnlock()
	if !ok || !now.Before(entry.expires) {
		return Recommendation{}, false
	}
	return entry.rec, true
}

func (c *recommendationCache) Set(category string, rec Recommendation, expires time.Time) {
	c.mu.Lock()
	c.entries[category] = cachedRecommendation{rec: rec, expires: expires}
	c.mu.Unlock()
}

func (c *recommendationCache) Invalidate(category string) {
	c.mu.Lock()
	delete(c.entries, category)
	c.mu.Unlock()
}

// OptimizerService learns which engine and settings rate best per prompt category.
type OptimizerService struct {
	log      *slog.Logger
	profiles *repository.EngineProfileRepository
	cache    *recommendationCache
	now      func() time.Time
}

func NewOptimizerService(log *slog.Logger, profiles *repository.EngineProfileRepository) *OptimizerService {
	return &OptimizerService{
		log:      log.With(slog.String("component", "optimizer")),
		profiles: profiles,
		cache:    newRecommendationCache(),
		now:      time.Now,
	}
}

func (s *OptimizerService) LogPerformance(ctx context.Context, generationID, engine string, settings map[string]any, prompt string, durationSeconds, cost float64) error {
	hash, raw := SettingsHash(settings)
	err := s.profiles.LogPerformance(ctx, repository.PerformanceEntry{
		GenerationID:   generationID,
		Engine:         engine,
		SettingsHash:   hash,
		SettingsJSON:   raw,
		Category:       Categorize(prompt),
		GenerationTime: durationSeconds,
		Cost:           cost,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("log performance: %w", err)
	}
	return nil
}

// UpdateRating folds a user rating into the engine profile and drops the
// cached recommendation for the generation's category.
func (s *OptimizerService) UpdateRating(ctx context.Context, generationID string, rating int, quality float64) error {
	entry, err := s.profiles.FindPerformance(ctx, generationID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if err := s.profiles.RatePerformance(ctx, generationID, rating, quality); err != nil {
		return err
	}
	stats, err := s.profiles.RatedStats(ctx, entry.Engine, entry.SettingsHash)
	if err != nil {
		return err
	}

	qpd := stats.AvgQuality / math.Max(stats.AvgCost, 0.001)
	qps := stats.AvgQuality / math.Max(stats.AvgTime, 0.1)
	overall := stats.AvgRating*0.4 + (stats.AvgQuality/20)*0.3 + (qpd/100)*0.2 + (qps/10)*0.1

	if err := s.profiles.UpdateScores(ctx, models.EngineProfile{
		Engine:           entry.Engine,
		SettingsHash:     entry.SettingsHash,
		AvgRating:        stats.AvgRating,
		AvgQualityScore:  stats.AvgQuality,
		SuccessRate:      stats.SuccessRate,
		QualityPerDollar: qpd,
		QualityPerSecond: qps,
		OverallScore:     overall,
	}); err != nil {
		return err
	}
	s.cache.Invalidate(entry.Category)
	return nil
}

func (s *OptimizerService) OptimalEngine(ctx context.Context, prompt string) (Recommendation, error) {
	category := Categorize(prompt)
	now := s.now()
	if rec, ok := s.cache.Get(category, now); ok {
		return rec, nil
	}

	profiles, err := s.profiles.ListProfiles(ctx, optimizerMinSamples)
	if err != nil {
		return Recommendation{}, err
	}
	if len(profiles) == 0 {
		return Recommendation{
			Engine:     provider.EngineReplicate,
			Settings:   map[string]any{"quality_boost": true},
			Confidence: 0,
			Reason:     "No performance data yet, using default",
			Category:   category,
		}, nil
	}

	leaders, err := s.profiles.CategoryLeaders(ctx)
	if err != nil {
		return Recommendation{}, err
	}
	var rec Recommendation
	var leader *repository.CategoryLeader
	for i := range leaders {
		if leaders[i].Category == category {
			leader = &leaders[i]
			break
		}
	}

	if leader != nil && leader.Samples >= optimizerMinSamples*2 {
		rec = Recommendation{
			Engine:     leader.Engine,
			Settings:   decodeSettings(leader.SettingsJSON),
			Confidence: math.Min(float64(leader.Samples)/100, 1),
			Reason:     fmt.Sprintf("Optimized for %s category (avg rating: %.2f)", category, leader.AvgRating),
		}
	} else {
		best := profiles[0]
		rec = Recommendation{
			Engine:     best.Engine,
			Settings:   decodeSettings(best.SettingsJSON),
			Confidence: math.Min(float64(best.TotalUses)/100, 1),
			Reason:     fmt.Sprintf("Best overall performer (rating: %.2f, quality: %.1f)", best.AvgRating, best.AvgQualityScore),
		}
	}
	rec.Category = category
	s.cache.Set(category, rec, now.Add(optimizerCacheTTL))
	return rec, nil
}

func decodeSettings(raw string) map[string]any {
	out := map[string]any{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}

type EngineComparison struct {
	Engine      string  `json:"engine"`
	Uses        int     `json:"uses"`
	Rating      float64 `json:"rating"`
	Quality     float64 `json:"quality"`
	Speed       float64 `json:"speed"`
	Cost        float64 `json:"cost"`
	SuccessRate float64 `json:"success_rate"`
	Efficiency  float64 `json:"efficiency"`
	Score       float64 `json:"score"`
}

func (s *OptimizerService) EngineComparison(ctx context.Context) ([]EngineComparison, error) {
	profiles, err := s.profiles.ListProfiles(ctx, optimizerMinSamples)
	if err != nil {
		return nil, err
	}
	out := make([]EngineComparison, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, EngineComparison{
			Engine:      p.Engine,
			Uses:        p.TotalUses,
			Rating:      round(p.AvgRating, 2),
			Quality:     round(p.AvgQualityScore, 1),
			Speed:       round(p.AvgGenerationTime, 2),
			Cost:        round(p.AvgCost, 4),
			SuccessRate: round(p.SuccessRate, 1),
			Efficiency:  round(p.QualityPerDollar, 1),
			Score:       round(p.OverallScore, 2),
		})
	}
	return out, nil
}

func (s *OptimizerService) CategoryInsights(ctx context.Context) ([]repository.CategoryLeader, error) {
	leaders, err := s.profiles.CategoryLeaders(ctx)
	if err != nil {
		return nil, err
	}
	out := leaders[:0]
	for _, l := range leaders {
		if l.Samples >= optimizerMinSamples {
			l.AvgRating = round(l.AvgRating, 2)
			out = append(out, l)
		}
	}
	return out, nil
}
