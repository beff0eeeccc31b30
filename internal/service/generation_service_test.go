package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/storage"
	"github.com/digkill/picly/pkg/logger"
)

type fakeEngine struct {
	name       string
	tier       models.Tier
	configured bool
	cost       float64
	generateFn func(ctx context.Context, req provider.Request) (*provider.Image, error)
	calls      int
}

func (f *fakeEngine) Name() string                     { return f.name }
func (f *fakeEngine) Tier() models.Tier                { return f.tier }
func (f *fakeEngine) Configured() bool                 { return f.configured }
func (f *fakeEngine) CostFor(provider.Request) float64 { return f.cost }

func (f *fakeEngine) Generate(ctx context.Context, req provider.Request) (*provider.Image, error) {
	f.calls++
	return f.generateFn(ctx, req)
}

type fakeEditor struct {
	fakeEngine
	editFn func(data []byte, prompt string) (*provider.Image, error)
}

func (f *fakeEditor) Edit(_ context.Context, data []byte, prompt string, _ bool) (*provider.Image, error) {
	return f.editFn(data, prompt)
}

func (f *fakeEditor) Variation(_ context.Context, data []byte) (*provider.Image, error) {
	return f.editFn(data, "")
}

func (f *fakeEditor) EditCost() float64 { return 0.02 }

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newGenerationService(t *testing.T, env *testEnv, engines ...provider.Engine) (*GenerationService, *storage.LocalStore) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "/images")
	require.NoError(t, err)
	svc := NewGenerationService(env.cfg, logger.Discard(), provider.NewRegistry(engines...),
		env.creditSvc, env.costSvc, env.analytics, env.optimizer, env.emergency, env.users, store)
	svc.now = env.clock.now
	return svc, store
}

func TestGenerateStoresAndCommits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "olga")
	data := testPNG(t, 8, 8)

	eng := &fakeEngine{name: provider.EngineStability, tier: models.TierPremium, configured: true, cost: 0.04,
		generateFn: func(_ context.Context, req provider.Request) (*provider.Image, error) {
			assert.Equal(t, "a red fox, watercolor", req.Prompt)
			return &provider.Image{Bytes: data, Mime: "image/png"}, nil
		}}
	svc, store := newGenerationService(t, env, eng)
	require.NoError(t, env.creditSvc.AddPremiumCredits(ctx, u.ID, 3, "purchase", "p"))

	res, err := svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "a red fox", Style: "watercolor", Engine: provider.EngineStability, Upscale: 2})
	require.NoError(t, err)
	assert.Equal(t, models.CreditPremium, res.CostType)
	assert.Equal(t, 2, res.Upscaled)
	assert.True(t, strings.HasPrefix(res.ImageURL, "/images/"))
	require.NotNil(t, res.Credits)
	assert.Equal(t, 2, res.Credits.Premium)

	stored, err := os.ReadFile(filepath.Join(store.Dir(), strings.TrimPrefix(res.ImageURL, "/images/")))
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	g, err := env.gens.FindByID(ctx, res.GenerationID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "premium", g.CreditSource)

	user, err := env.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.TotalGenerations)
}

func TestGenerateRefundsOnProviderError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "pete")

	eng := &fakeEngine{name: provider.EngineReplicate, tier: models.TierFree, configured: true,
		generateFn: func(context.Context, provider.Request) (*provider.Image, error) {
			return nil, errors.New("upstream exploded")
		}}
	svc, _ := newGenerationService(t, env, eng)

	_, err := svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "city", Engine: provider.EngineReplicate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")

	bal, err := env.creditSvc.GetUserCredits(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, bal.Free)

	breakdown, err := env.costSvc.CostBreakdown(ctx, 1)
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, 1, breakdown[0].Failures)
}

func TestGenerateGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "quinn")

	premium := &fakeEngine{name: provider.EngineDalle, tier: models.TierPremium, configured: true,
		generateFn: func(context.Context, provider.Request) (*provider.Image, error) { return nil, errors.New("unreachable") }}
	unconfigured := &fakeEngine{name: provider.EngineHuggingFace, tier: models.TierFree}
	svc, _ := newGenerationService(t, env, premium, unconfigured)

	_, err := svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "  "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	_, err = svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "x", Engine: "midjourney"})
	assert.ErrorIs(t, err, ErrUnknownEngine)
	_, err = svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "x", Engine: provider.EngineHuggingFace})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	_, err = svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "x", Engine: provider.EngineDalle})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Zero(t, premium.calls)

	_, err = env.emergency.Activate("test")
	require.NoError(t, err)
	_, err = svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "x", Engine: provider.EngineDalle})
	assert.ErrorIs(t, err, ErrEngineDisabled)

	for _, st := range svc.Statuses() {
		assert.False(t, st.Enabled, st.Name)
	}
}

func TestGenerateAutoPicksFreeEngineAndDownloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "rosa")
	data := testPNG(t, 4, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	// The optimizer's default is replicate, which is not registered here.
	hf := &fakeEngine{name: provider.EngineHuggingFace, tier: models.TierFree, configured: true,
		generateFn: func(context.Context, provider.Request) (*provider.Image, error) {
			return &provider.Image{URL: srv.URL + "/out.png"}, nil
		}}
	svc, _ := newGenerationService(t, env, hf)

	res, err := svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "a lighthouse", Engine: EngineAuto})
	require.NoError(t, err)
	assert.Equal(t, provider.EngineHuggingFace, res.Engine)
	assert.Equal(t, "image/png", res.Mime)
	assert.True(t, strings.HasPrefix(res.ImageURL, "/images/"))
	assert.Equal(t, models.CreditFree, res.CostType)
	assert.Equal(t, 9, res.Credits.Free)
}

func TestDownloadFailureKeepsProviderURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "sam")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	eng := &fakeEngine{name: provider.EngineReplicate, tier: models.TierFree, configured: true,
		generateFn: func(context.Context, provider.Request) (*provider.Image, error) {
			return &provider.Image{URL: srv.URL + "/expired.png"}, nil
		}}
	svc, _ := newGenerationService(t, env, eng)

	res, err := svc.Generate(ctx, u.ID, GenerateRequest{Prompt: "city", Engine: provider.EngineReplicate})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/expired.png", res.ImageURL)
}

func TestEditResizesAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "tara")
	require.NoError(t, env.creditSvc.AddPremiumCredits(ctx, u.ID, 1, "purchase", "p"))

	var sent []byte
	editor := &fakeEditor{
		fakeEngine: fakeEngine{name: provider.EngineDalle, tier: models.TierPremium, configured: true},
		editFn: func(data []byte, _ string) (*provider.Image, error) {
			sent = data
			return nil, errors.New("content policy")
		},
	}
	svc, _ := newGenerationService(t, env, editor)

	_, err := svc.Edit(ctx, u.ID, EditRequest{Image: testPNG(t, 20, 10), Prompt: "add a hat"})
	require.Error(t, err)
	img, _, err := image.Decode(bytes.NewReader(sent))
	require.NoError(t, err)
	assert.Equal(t, 1024, img.Bounds().Dx())
	assert.Equal(t, 1024, img.Bounds().Dy())

	bal, err := env.creditSvc.GetUserCredits(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bal.Premium)

	_, err = svc.Edit(ctx, u.ID, EditRequest{Image: testPNG(t, 4, 4), Prompt: "x", Mode: "outpaint"})
	assert.Error(t, err)

	plain := &fakeEngine{name: provider.EngineStability, tier: models.TierPremium, configured: true}
	svc2, _ := newGenerationService(t, env, plain)
	_, err = svc2.Edit(ctx, u.ID, EditRequest{Image: testPNG(t, 4, 4), Prompt: "x", Engine: provider.EngineStability})
	assert.ErrorIs(t, err, ErrEditUnsupported)
}

func TestEnhanceUpload(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newGenerationService(t, env)

	url, err := svc.EnhanceUpload(context.Background(), testPNG(t, 6, 6), "colorize")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"))

	_, err = svc.EnhanceUpload(context.Background(), testPNG(t, 6, 6), "melt")
	assert.Error(t, err)

	_, err = svc.UpscaleUpload(context.Background(), testPNG(t, 6, 6), 8)
	assert.Error(t, err)
}
