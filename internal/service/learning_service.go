package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/digkill/picly/internal/harvest"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

const (
	learnMinEngagement   = 10
	learnBatchSize       = 1000
	qualityMinCount      = 10
	styleMinCount        = 5
	trendingMinFrequency = 3
	trendingWindow       = 7 * 24 * time.Hour
	trendingFresh        = 72 * time.Hour
	trendingLimit        = 100
)

var (
	qualityTerms = []string{"4k", "8k", "hd", "highly detailed", "professional",
		"masterpiece", "best quality", "ultra detailed", "sharp focus"}
	styleTerms = []string{"cinematic", "photorealistic", "oil painting", "watercolor",
		"digital art", "concept art", "studio lighting", "dramatic",
		"vibrant", "muted colors", "bokeh", "depth of field"}
	cameraSpecRe = regexp.MustCompile(`\d+mm`)
)

const (
	structureArtist = "artist_attribution"
	structureStyle  = "style_reference"
	structureCamera = "camera_specs"
)

// LearningService harvests community prompts and distils reusable patterns from them.
type LearningService struct {
	log     *slog.Logger
	repo    *repository.LearningRepository
	sources []harvest.Source
	now     func() time.Time
}

func NewLearningService(log *slog.Logger, repo *repository.LearningRepository, sources ...harvest.Source) *LearningService {
	return &LearningService{
		log:     log.With(slog.String("component", "learning")),
		repo:    repo,
		sources: sources,
		now:     time.Now,
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Harvest pulls every source and stores new prompts. A failing source is logged and skipped.
func (s *LearningService) Harvest(ctx context.Context) (int, error) {
	stored := 0
	var errs []error
	for _, src := range s.sources {
		items, err := src.Harvest(ctx)
		if err != nil {
			s.log.Warn("harvest failed", "source", src.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		for _, it := range items {
			ok, err := s.repo.InsertHarvested(ctx, &models.HarvestedPrompt{
				Source:      it.Source,
				SourceRef:   it.SourceRef,
				Prompt:      it.Prompt,
				PromptHash:  contentHash(it.Prompt),
				Engagement:  it.Engagement,
				ImageURL:    it.ImageURL,
				Metadata:    string(it.Metadata),
				HarvestedAt: s.now(),
			})
			if err != nil {
				return stored, err
			}
			if ok {
				stored++
			}
		}
	}
	if len(s.sources) > 0 && len(errs) == len(s.sources) {
		return stored, errors.Join(errs...)
	}
	return stored, nil
}

// AnalyzeAndLearn counts quality, style and structural terms across the
// high-engagement prompts not seen before and records the significant ones.
func (s *LearningService) AnalyzeAndLearn(ctx context.Context) (int, error) {
	prompts, err := s.repo.ListUnanalyzed(ctx, learnMinEngagement, learnBatchSize)
	if err != nil {
		return 0, err
	}
	if len(prompts) == 0 {
		return 0, nil
	}

	quality := map[string]int{}
	style := map[string]int{}
	structure := map[string]int{}
	ids := make([]int64, 0, len(prompts))
	for _, p := range prompts {
		ids = append(ids, p.ID)
		lower := strings.ToLower(p.Prompt)
		for _, term := range qualityTerms {
			if strings.Contains(lower, term) {
				quality[term]++
			}
		}
		for _, term := range styleTerms {
			if strings.Contains(lower, term) {
				style[term]++
			}
		}
		if strings.Contains(p.Prompt, " by ") {
			structure[structureArtist]++
		}
		if strings.Contains(lower, "in the style of") {
			structure[structureStyle]++
		}
		if cameraSpecRe.MatchString(p.Prompt) {
			structure[structureCamera]++
		}
	}

	now := s.now()
	total := float64(len(prompts))
	found := 0
	record := func(kind models.PatternKind, counts map[string]int, min int) error {
		for value, count := range counts {
			if count <= min {
				continue
			}
			if err := s.repo.AddPattern(ctx, kind, value, count, float64(count)/total, now); err != nil {
				return err
			}
			found++
		}
		return nil
	}
	if err := record(models.PatternQualityModifier, quality, qualityMinCount); err != nil {
		return found, err
	}
	if err := record(models.PatternStyle, style, styleMinCount); err != nil {
		return found, err
	}
	if err := record(models.PatternStructure, structure, 0); err != nil {
		return found, err
	}
	if err := s.repo.MarkAnalyzed(ctx, ids); err != nil {
		return found, err
	}
	s.log.Info("prompts analysed", "prompts", len(prompts), "patterns", found)
	return found, nil
}

// UpdateTrending scores 3-word phrases that occur in more than three prompts
// harvested over the last week by frequency times average engagement.
func (s *LearningService) UpdateTrending(ctx context.Context) (int, error) {
	now := s.now()
	recent, err := s.repo.ListSince(ctx, now.Add(-trendingWindow), 5000)
	if err != nil {
		return 0, err
	}

	type phraseStat struct {
		phrase     string
		frequency  int
		engagement float64
	}
	stats := map[string]*phraseStat{}
	for _, p := range recent {
		words := strings.Fields(strings.ToLower(p.Prompt))
		seen := map[string]bool{}
		for i := 0; i+3 <= len(words); i++ {
			phrase := strings.Join(words[i:i+3], " ")
			if seen[phrase] {
				continue
			}
			seen[phrase] = true
			st, ok := stats[phrase]
			if !ok {
				st = &phraseStat{phrase: phrase}
				stats[phrase] = st
			}
			st.frequency++
			st.engagement += p.Engagement
		}
	}

	var trending []*phraseStat
	for _, st := range stats {
		if st.frequency > trendingMinFrequency {
			trending = append(trending, st)
		}
	}
	sort.Slice(trending, func(i, j int) bool {
		if trending[i].frequency != trending[j].frequency {
			return trending[i].frequency > trending[j].frequency
		}
		if trending[i].engagement != trending[j].engagement {
			return trending[i].engagement > trending[j].engagement
		}
		return trending[i].phrase < trending[j].phrase
	})
	if len(trending) > trendingLimit {
		trending = trending[:trendingLimit]
	}
	for _, st := range trending {
		avg := st.engagement / float64(st.frequency)
		if err := s.repo.SetPattern(ctx, models.PatternTrending, st.phrase, st.frequency, float64(st.frequency)*avg, now); err != nil {
			return 0, err
		}
	}
	return len(trending), nil
}

type QualitySuggestion struct {
	Term   string  `json:"term"`
	Impact float64 `json:"impact"`
}

type StyleSuggestion struct {
	Style      string  `json:"style"`
	Quality    float64 `json:"quality"`
	Popularity int     `json:"popularity"`
}

type TrendSuggestion struct {
	Pattern    string  `json:"pattern"`
	TrendScore float64 `json:"trend_score"`
}

type Suggestions struct {
	QualityModifiers  []QualitySuggestion `json:"quality_modifiers"`
	StyleSuggestions  []StyleSuggestion   `json:"style_suggestions"`
	TrendingAdditions []TrendSuggestion   `json:"trending_additions"`
	NegativePrompt    string              `json:"negative_prompt"`
}

// EnhancementSuggestions proposes learned terms the prompt does not already contain.
func (s *LearningService) EnhancementSuggestions(ctx context.Context, prompt string) (*Suggestions, error) {
	lower := strings.ToLower(prompt)
	now := s.now()
	out := &Suggestions{
		QualityModifiers:  []QualitySuggestion{},
		StyleSuggestions:  []StyleSuggestion{},
		TrendingAdditions: []TrendSuggestion{},
	}

	modifiers, err := s.repo.ListPatterns(ctx, models.PatternQualityModifier, 21, time.Time{}, 5)
	if err != nil {
		return nil, err
	}
	for _, m := range modifiers {
		if !strings.Contains(lower, strings.ToLower(m.Value)) {
			out.QualityModifiers = append(out.QualityModifiers, QualitySuggestion{Term: m.Value, Impact: m.Score})
		}
	}

	styles, err := s.repo.ListPatterns(ctx, models.PatternStyle, 11, time.Time{}, 5)
	if err != nil {
		return nil, err
	}
	for _, st := range styles {
		if !strings.Contains(lower, strings.ToLower(st.Value)) {
			out.StyleSuggestions = append(out.StyleSuggestions, StyleSuggestion{Style: st.Value, Quality: st.Score, Popularity: st.Occurrences})
		}
	}

	trends, err := s.repo.ListPatterns(ctx, models.PatternTrending, 0, now.Add(-trendingFresh), 3)
	if err != nil {
		return nil, err
	}
	for _, tr := range trends {
		out.TrendingAdditions = append(out.TrendingAdditions, TrendSuggestion{Pattern: tr.Value, TrendScore: tr.Score})
	}

	negative, err := s.repo.ListPatterns(ctx, models.PatternNegative, 0, time.Time{}, 1)
	if err != nil {
		return nil, err
	}
	if len(negative) > 0 && negative[0].Score > 0.5 {
		out.NegativePrompt = negative[0].Value
	}
	return out, nil
}

func (s *LearningService) Stats(ctx context.Context) (repository.LearningStats, error) {
	return s.repo.Stats(ctx, s.now())
}

type SessionResult struct {
	SessionID int64 `json:"session_id"`
	Harvested int   `json:"harvested"`
	Patterns  int   `json:"patterns"`
	Trending  int   `json:"trending"`
}

// RunSession harvests, analyses and refreshes trends, recording the run in learning_sessions.
func (s *LearningService) RunSession(ctx context.Context) (*SessionResult, error) {
	id, err := s.repo.StartSession(ctx, "full", s.now())
	if err != nil {
		return nil, err
	}
	res := &SessionResult{SessionID: id}

	runErr := func() error {
		var err error
		if res.Harvested, err = s.Harvest(ctx); err != nil {
			return err
		}
		if res.Patterns, err = s.AnalyzeAndLearn(ctx); err != nil {
			return err
		}
		res.Trending, err = s.UpdateTrending(ctx)
		return err
	}()

	if err := s.repo.FinishSession(context.WithoutCancel(ctx), id, res.Harvested, res.Patterns, runErr, s.now()); err != nil {
		s.log.Error("failed to close learning session", "session_id", id, "err", err)
	}
	if runErr != nil {
		return res, fmt.Errorf("learning session %d: %w", id, runErr)
	}
	s.log.Info("learning session completed", "session_id", id, "harvested", res.Harvested, "patterns", res.Patterns, "trending", res.Trending)
	return res, nil
}
