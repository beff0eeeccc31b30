package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/imaging"
	"github.com/digkill/picly/internal/metrics"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/internal/storage"
)

const (
	EngineAuto       = "auto"
	maxDownloadBytes = 64 << 20
)

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	engines   *provider.Registry
	credits   *CreditService
	costs     *CostService
	analytics *AnalyticsService
	optimizer *OptimizerService
	emergency *EmergencyMode
	users     *repository.UserRepository
	store     storage.Store
	fetch     *http.Client
	now       func() time.Time
}

func NewGenerationService(
	cfg config.Config,
	log *slog.Logger,
	engines *provider.Registry,
	credits *CreditService,
	costs *CostService,
	analytics *AnalyticsService,
	optimizer *OptimizerService,
	emergency *EmergencyMode,
	users *repository.UserRepository,
	store storage.Store,
) *GenerationService {
	return &GenerationService{
		cfg:       cfg,
		log:       log.With(slog.String("component", "generation")),
		engines:   engines,
		credits:   credits,
		costs:     costs,
		analytics: analytics,
		optimizer: optimizer,
		emergency: emergency,
		users:     users,
		store:     store,
		fetch:     &http.Client{Timeout: 2 * time.Minute},
		now:       time.Now,
	}
}

type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Engine         string
	Style          string
	Width          int
	Height         int
	QualityBoost   bool
	PostProcess    bool
	Upscale        int
	ImageURL       string
	Duration       int
}

type GenerateResult struct {
	GenerationID  string                `json:"generation_id"`
	ImageURL      string                `json:"image_url"`
	Engine        string                `json:"engine"`
	CostType      models.CreditSource   `json:"cost_type"`
	Credits       *models.CreditBalance `json:"credits,omitempty"`
	Enhanced      bool                  `json:"enhanced"`
	Upscaled      int                   `json:"upscaled,omitempty"`
	RevisedPrompt string                `json:"revised_prompt,omitempty"`
	EditMode      string                `json:"edit_mode,omitempty"`
	Mime          string                `json:"mime,omitempty"`
}

type EngineStatus struct {
	Name       string      `json:"name"`
	Tier       models.Tier `json:"tier"`
	Configured bool        `json:"configured"`
	Enabled    bool        `json:"enabled"`
}

func (s *GenerationService) Statuses() []EngineStatus {
	emergency := s.emergency != nil && s.emergency.Active()
	var out []EngineStatus
	for _, e := range s.engines.All() {
		out = append(out, EngineStatus{
			Name:       e.Name(),
			Tier:       e.Tier(),
			Configured: e.Configured(),
			Enabled:    e.Configured() && !(emergency && e.Tier() == models.TierPremium),
		})
	}
	return out
}

// admit resolves the engine and applies the emergency and configuration gates.
func (s *GenerationService) admit(name string) (provider.Engine, error) {
	eng, ok := s.engines.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
	if s.emergency != nil && s.emergency.Active() && eng.Tier() == models.TierPremium {
		return nil, ErrEngineDisabled
	}
	if !eng.Configured() {
		return nil, ErrEngineUnavailable
	}
	return eng, nil
}

// pickEngine follows the optimizer's recommendation and falls back to the first
// usable engine, free tier first.
func (s *GenerationService) pickEngine(ctx context.Context, prompt string) (provider.Engine, error) {
	if s.optimizer != nil {
		rec, err := s.optimizer.OptimalEngine(ctx, prompt)
		if err != nil {
			s.log.Warn("optimizer recommendation failed", "err", err)
		} else if eng, err := s.admit(rec.Engine); err == nil {
			return eng, nil
		}
	}
	for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
		for _, e := range s.engines.All() {
			if e.Tier() != tier || e.Name() == provider.EngineRunway {
				continue
			}
			if eng, err := s.admit(e.Name()); err == nil {
				return eng, nil
			}
		}
	}
	return nil, ErrEngineUnavailable
}

func (s *GenerationService) Generate(ctx context.Context, userID int64, req GenerateRequest) (*GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if style := strings.TrimSpace(req.Style); style != "" {
		prompt = prompt + ", " + style
	}

	var (
		eng provider.Engine
		err error
	)
	if req.Engine == "" || req.Engine == EngineAuto {
		eng, err = s.pickEngine(ctx, prompt)
	} else {
		eng, err = s.admit(req.Engine)
	}
	if err != nil {
		return nil, err
	}

	preq := provider.Request{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		QualityBoost:   req.QualityBoost,
		ImageURL:       req.ImageURL,
		Duration:       req.Duration,
	}
	if eng.Name() == provider.EngineRunway && preq.ImageURL == "" {
		return nil, provider.ErrSourceImageRequired
	}

	reservation, err := s.credits.Reserve(ctx, userID, eng.Tier(), eng.Name())
	if err != nil {
		return nil, err
	}

	started := s.now()
	img, err := eng.Generate(ctx, preq)
	elapsed := s.now().Sub(started)
	metrics.ProviderLatency.WithLabelValues(eng.Name()).Observe(elapsed.Seconds())
	if err != nil {
		s.fail(ctx, userID, eng.Name(), "generate", reservation, elapsed, err)
		return nil, fmt.Errorf("%s generation failed: %w", eng.Name(), err)
	}

	settings := map[string]any{
		"quality_boost": req.QualityBoost,
		"width":         req.Width,
		"height":        req.Height,
	}
	if req.NegativePrompt != "" {
		settings["negative_prompt"] = true
	}
	return s.complete(ctx, completion{
		userID:      userID,
		engine:      eng.Name(),
		operation:   "generate",
		prompt:      prompt,
		settings:    settings,
		cost:        eng.CostFor(preq),
		reservation: reservation,
		image:       img,
		elapsed:     elapsed,
		postProcess: req.PostProcess,
		boost:       req.QualityBoost,
		upscale:     req.Upscale,
	})
}

type EditRequest struct {
	Image        []byte
	Prompt       string
	Mode         string
	Engine       string
	QualityBoost bool
}

func (s *GenerationService) Edit(ctx context.Context, userID int64, req EditRequest) (*GenerateResult, error) {
	mode := req.Mode
	switch mode {
	case "":
		mode = "edit"
	case "edit", "inpaint", "variation":
	default:
		return nil, fmt.Errorf("unknown edit mode %q", req.Mode)
	}
	if mode != "variation" && strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if req.Engine == "" {
		req.Engine = provider.EngineDalle
	}
	eng, err := s.admit(req.Engine)
	if err != nil {
		return nil, err
	}
	editor, ok := eng.(provider.Editor)
	if !ok {
		return nil, ErrEditUnsupported
	}

	src, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	png, err := imaging.EncodePNG(imaging.FitSquare(src, imaging.EditSize))
	if err != nil {
		return nil, err
	}

	reservation, err := s.credits.Reserve(ctx, userID, eng.Tier(), eng.Name())
	if err != nil {
		return nil, err
	}

	started := s.now()
	var img *provider.Image
	if mode == "variation" {
		img, err = editor.Variation(ctx, png)
	} else {
		img, err = editor.Edit(ctx, png, req.Prompt, req.QualityBoost)
	}
	elapsed := s.now().Sub(started)
	metrics.ProviderLatency.WithLabelValues(eng.Name()).Observe(elapsed.Seconds())
	if err != nil {
		s.fail(ctx, userID, eng.Name(), "edit", reservation, elapsed, err)
		return nil, fmt.Errorf("%s edit failed: %w", eng.Name(), err)
	}

	res, err := s.complete(ctx, completion{
		userID:      userID,
		engine:      eng.Name(),
		operation:   "edit",
		prompt:      req.Prompt,
		settings:    map[string]any{"edit_mode": mode, "quality_boost": req.QualityBoost},
		cost:        editor.EditCost(),
		reservation: reservation,
		image:       img,
		elapsed:     elapsed,
	})
	if err != nil {
		return nil, err
	}
	res.EditMode = mode
	return res, nil
}

// fail refunds the reservation and records the failed call. It runs detached
// from ctx so a cancelled request still gets its credit back.
func (s *GenerationService) fail(ctx context.Context, userID int64, engine, operation string, reservation *models.CreditReservation, elapsed time.Duration, cause error) {
	ctx = context.WithoutCancel(ctx)
	metrics.Generations.WithLabelValues(engine, "failed").Inc()
	s.log.Error("provider call failed", "engine", engine, "operation", operation, "user_id", userID, "err", cause)

	if _, err := s.credits.Refund(ctx, reservation.ID, cause.Error()); err != nil {
		s.log.Error("failed to refund credit", "reservation_id", reservation.ID, "err", err)
	}
	if err := s.costs.LogAPICost(ctx, &userID, engine, operation, 0, false, reservation.ID); err != nil {
		s.log.Error("failed to log api cost", "err", err)
	}
	if err := s.analytics.RecordFailure(ctx, engine, elapsed); err != nil {
		s.log.Warn("failed to record engine failure", "err", err)
	}
}

type completion struct {
	userID      int64
	engine      string
	operation   string
	prompt      string
	settings    map[string]any
	cost        float64
	reservation *models.CreditReservation
	image       *provider.Image
	elapsed     time.Duration
	postProcess bool
	boost       bool
	upscale     int
}

func (s *GenerationService) complete(ctx context.Context, c completion) (*GenerateResult, error) {
	ctx = context.WithoutCancel(ctx)
	generationID := uuid.NewString()
	result := &GenerateResult{
		GenerationID:  generationID,
		Engine:        c.engine,
		CostType:      c.reservation.Source,
		RevisedPrompt: c.image.RevisedPrompt,
	}

	url, mime, enhanced, upscaled, err := s.persist(ctx, c)
	if err != nil {
		// The provider was paid, but the user got nothing back.
		if _, rerr := s.credits.Refund(ctx, c.reservation.ID, "storage failed"); rerr != nil {
			s.log.Error("failed to refund credit", "reservation_id", c.reservation.ID, "err", rerr)
		}
		if lerr := s.costs.LogAPICost(ctx, &c.userID, c.engine, c.operation, c.cost, true, generationID); lerr != nil {
			s.log.Error("failed to log api cost", "err", lerr)
		}
		metrics.Generations.WithLabelValues(c.engine, "failed").Inc()
		return nil, fmt.Errorf("store image: %w", err)
	}
	result.ImageURL, result.Mime, result.Enhanced, result.Upscaled = url, mime, enhanced, upscaled

	if err := s.credits.Commit(ctx, c.reservation.ID, generationID); err != nil {
		s.log.Error("failed to commit reservation", "reservation_id", c.reservation.ID, "err", err)
	}
	if err := s.costs.LogAPICost(ctx, &c.userID, c.engine, c.operation, c.cost, true, generationID); err != nil {
		s.log.Error("failed to log api cost", "err", err)
	}
	if _, err := s.analytics.RecordGeneration(ctx, GenerationRecord{
		ID:           generationID,
		UserID:       c.userID,
		Prompt:       c.prompt,
		Engine:       c.engine,
		Settings:     c.settings,
		ImageURL:     url,
		Cost:         c.cost,
		CreditSource: c.reservation.Source,
		Duration:     c.elapsed,
	}); err != nil {
		s.log.Error("failed to record generation", "generation_id", generationID, "err", err)
	}
	if s.optimizer != nil {
		if err := s.optimizer.LogPerformance(ctx, generationID, c.engine, c.settings, c.prompt, c.elapsed.Seconds(), c.cost); err != nil {
			s.log.Warn("failed to log engine performance", "err", err)
		}
	}
	if err := s.users.IncrementGenerations(ctx, c.userID); err != nil {
		s.log.Warn("failed to bump generation count", "user_id", c.userID, "err", err)
	}
	metrics.Generations.WithLabelValues(c.engine, "succeeded").Inc()

	balance, err := s.credits.GetUserCredits(ctx, c.userID)
	if err != nil {
		s.log.Warn("failed to load credits", "user_id", c.userID, "err", err)
	}
	result.Credits = balance
	s.log.Info("generation completed", "generation_id", generationID, "engine", c.engine, "user_id", c.userID,
		"cost_type", c.reservation.Source, "duration", c.elapsed)
	return result, nil
}

// persist stores the provider output, post-processing still images when asked.
// A remote result that cannot be fetched is passed through by URL.
func (s *GenerationService) persist(ctx context.Context, c completion) (url, mime string, enhanced bool, upscaled int, err error) {
	data, mime := c.image.Bytes, c.image.Mime
	if len(data) == 0 {
		data, mime, err = s.download(ctx, c.image.URL)
		if err != nil {
			s.log.Warn("could not fetch provider output, passing url through", "engine", c.engine, "err", err)
			return c.image.URL, c.image.Mime, false, 0, nil
		}
		if c.image.Mime != "" {
			mime = c.image.Mime
		}
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	if strings.HasPrefix(mime, "image/") && (c.postProcess || c.upscale > 1) {
		processed, perr := s.postProcess(data, c)
		if perr != nil {
			s.log.Warn("post-processing failed, keeping original", "err", perr)
		} else {
			data, mime = processed, "image/png"
			enhanced = c.postProcess
			if c.upscale > 1 {
				upscaled = c.upscale
			}
		}
	}

	url, err = s.store.Save(ctx, data, mime)
	return url, mime, enhanced, upscaled, err
}

func (s *GenerationService) postProcess(data []byte, c completion) ([]byte, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	if c.postProcess {
		level := imaging.LevelMedium
		if c.boost {
			level = imaging.LevelHeavy
		}
		img = imaging.Enhance(img, level)
	}
	if c.upscale > 1 {
		if img, err = imaging.Upscale(img, imaging.FitFactor(img, c.upscale)); err != nil {
			return nil, err
		}
	}
	return imaging.EncodePNG(img)
}

func (s *GenerationService) download(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", errors.New("provider returned neither bytes nor url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch output: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read output: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// EnhanceUpload runs one local enhance operation on an uploaded image. No credit is used.
func (s *GenerationService) EnhanceUpload(ctx context.Context, data []byte, operation string) (string, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return "", err
	}
	out, err := imaging.Apply(img, operation)
	if err != nil {
		return "", err
	}
	png, err := imaging.EncodePNG(out)
	if err != nil {
		return "", err
	}
	return s.store.Save(ctx, png, "image/png")
}

func (s *GenerationService) UpscaleUpload(ctx context.Context, data []byte, scale int) (string, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return "", err
	}
	out, err := imaging.Upscale(img, scale)
	if err != nil {
		return "", err
	}
	png, err := imaging.EncodePNG(out)
	if err != nil {
		return "", err
	}
	return s.store.Save(ctx, png, "image/png")
}
