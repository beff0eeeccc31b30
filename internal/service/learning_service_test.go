package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/database/dbtest"
	"github.com/digkill/picly/internal/harvest"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/pkg/logger"
)

type fakeSource struct {
	name      string
	harvestFn func(ctx context.Context) ([]harvest.Item, error)
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Harvest(ctx context.Context) ([]harvest.Item, error) {
	return f.harvestFn(ctx)
}

func staticSource(name string, items ...harvest.Item) *fakeSource {
	return &fakeSource{name: name, harvestFn: func(context.Context) ([]harvest.Item, error) { return items, nil }}
}

func newLearning(t *testing.T, sources ...harvest.Source) (*LearningService, *repository.LearningRepository, *clock) {
	t.Helper()
	repo := repository.NewLearningRepository(dbtest.Open(t))
	c := &clock{t: time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)}
	svc := NewLearningService(logger.Discard(), repo, sources...)
	svc.now = c.now
	return svc, repo, c
}

func TestHarvestDedupesAndSurvivesFailingSource(t *testing.T) {
	items := []harvest.Item{
		{Source: harvest.SourceLexica, Prompt: "neon city at night, cinematic", Engagement: 40},
		{Source: harvest.SourceLexica, Prompt: "neon city at night, cinematic", Engagement: 40},
	}
	broken := &fakeSource{name: "broken", harvestFn: func(context.Context) ([]harvest.Item, error) {
		return nil, errors.New("timeout")
	}}
	svc, _, _ := newLearning(t, staticSource(harvest.SourceLexica, items...), broken)

	n, err := svc.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.Harvest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAnalyzeAndLearnThresholds(t *testing.T) {
	var items []harvest.Item
	for i := 0; i < 12; i++ {
		items = append(items, harvest.Item{
			Source:     harvest.SourceCivitai,
			Prompt:     fmt.Sprintf("knight %d, highly detailed, cinematic, 85mm", i),
			Engagement: 50,
		})
	}
	for i := 0; i < 4; i++ {
		items = append(items, harvest.Item{Source: harvest.SourceCivitai, Prompt: fmt.Sprintf("tree %d, watercolor", i), Engagement: 50})
	}
	items = append(items, harvest.Item{Source: harvest.SourceCivitai, Prompt: "low engagement, masterpiece", Engagement: 5})
	svc, repo, _ := newLearning(t, staticSource(harvest.SourceCivitai, items...))
	ctx := context.Background()

	_, err := svc.Harvest(ctx)
	require.NoError(t, err)
	found, err := svc.AnalyzeAndLearn(ctx)
	require.NoError(t, err)
	// highly detailed (12 > 10), cinematic (12 > 5), camera_specs.
	assert.Equal(t, 3, found)

	q, err := repo.ListPatterns(ctx, models.PatternQualityModifier, 0, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, "highly detailed", q[0].Value)
	assert.InDelta(t, 12.0/16.0, q[0].Score, 1e-9)

	styles, err := repo.ListPatterns(ctx, models.PatternStyle, 0, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, styles, 1)
	assert.Equal(t, "cinematic", styles[0].Value)

	// Already analysed prompts are not counted again.
	found, err = svc.AnalyzeAndLearn(ctx)
	require.NoError(t, err)
	assert.Zero(t, found)
}

func TestUpdateTrendingAndSuggestions(t *testing.T) {
	var items []harvest.Item
	for i := 0; i < 5; i++ {
		items = append(items, harvest.Item{Source: harvest.SourceReddit, Prompt: fmt.Sprintf("golden hour glow over lake %d", i), Engagement: 10})
	}
	svc, repo, c := newLearning(t, staticSource(harvest.SourceReddit, items...))
	ctx := context.Background()

	_, err := svc.Harvest(ctx)
	require.NoError(t, err)
	n, err := svc.UpdateTrending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, repo.AddPattern(ctx, models.PatternQualityModifier, "8k", 30, 0.9, c.t))
	require.NoError(t, repo.AddPattern(ctx, models.PatternQualityModifier, "sharp focus", 25, 0.7, c.t))
	require.NoError(t, repo.AddPattern(ctx, models.PatternStyle, "bokeh", 12, 0.4, c.t))

	sug, err := svc.EnhancementSuggestions(ctx, "A cat portrait, 8K")
	require.NoError(t, err)
	require.Len(t, sug.QualityModifiers, 1)
	assert.Equal(t, "sharp focus", sug.QualityModifiers[0].Term)
	require.Len(t, sug.StyleSuggestions, 1)
	require.Len(t, sug.TrendingAdditions, 3)
	assert.Equal(t, 50.0, sug.TrendingAdditions[0].TrendScore)
	assert.Empty(t, sug.NegativePrompt)
}

func TestRunSessionRecordsStats(t *testing.T) {
	svc, _, _ := newLearning(t, staticSource(harvest.SourceLexica,
		harvest.Item{Source: harvest.SourceLexica, Prompt: "a quiet harbor at dawn", Engagement: 3}))
	ctx := context.Background()

	res, err := svc.RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Harvested)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalHarvested)
	assert.Equal(t, 1, st.SessionsLastWeek)
	assert.Equal(t, 1, st.ItemsLastWeek)
}
