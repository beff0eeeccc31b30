package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/digkill/picly/internal/models"
)

const (
	sdxlTextPath  = "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image"
	sdxlImagePath = "/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image"
	sdxlSampler   = "K_DPM_2_ANCESTRAL"
	sdxlCost      = 0.04

	// sdxlImageStrength is how much of the init image survives an edit.
	sdxlImageStrength = "0.35"
)

// Stability generates with SDXL and returns base64 artifacts.
type Stability struct {
	apiKey string
	c      *httpClient
}

func NewStability(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) *Stability {
	return &Stability{
		apiKey: apiKey,
		c:      newHTTPClient(EngineStability, baseURL, "Bearer "+apiKey, timeout, log),
	}
}

func (s *Stability) Name() string            { return EngineStability }
func (s *Stability) Tier() models.Tier       { return models.TierFree }
func (s *Stability) Configured() bool        { return s.apiKey != "" }
func (s *Stability) CostFor(Request) float64 { return sdxlCost }
func (s *Stability) EditCost() float64       { return sdxlCost }

func sdxlSteps(boost bool) (steps, cfg int) {
	if boost {
		return 50, 8
	}
	return 30, 7
}

type sdxlResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (r sdxlResponse) image() (*Image, error) {
	if len(r.Artifacts) == 0 {
		return nil, fmt.Errorf("stability: no artifacts in response")
	}
	data, err := base64.StdEncoding.DecodeString(r.Artifacts[0].Base64)
	if err != nil {
		return nil, fmt.Errorf("decode stability artifact: %w", err)
	}
	return &Image{Bytes: data, Mime: "image/png"}, nil
}

func (s *Stability) Generate(ctx context.Context, req Request) (*Image, error) {
	w, h := req.dimensions()
	steps, cfg := sdxlSteps(req.QualityBoost)

	prompts := []map[string]any{{"text": req.Prompt, "weight": 1}}
	if req.NegativePrompt != "" {
		prompts = append(prompts, map[string]any{"text": req.NegativePrompt, "weight": -1})
	}
	payload := map[string]any{
		"text_prompts": prompts,
		"cfg_scale":    cfg,
		"height":       h,
		"width":        w,
		"steps":        steps,
		"samples":      1,
		"sampler":      sdxlSampler,
	}
	var resp sdxlResponse
	if err := s.c.postJSON(ctx, sdxlTextPath, payload, &resp); err != nil {
		return nil, err
	}
	return resp.image()
}

func (s *Stability) Edit(ctx context.Context, png []byte, prompt string, qualityBoost bool) (*Image, error) {
	steps, cfg := sdxlSteps(qualityBoost)
	fields := map[string]string{
		"text_prompts[0][text]":   prompt,
		"text_prompts[0][weight]": "1",
		"cfg_scale":               strconv.Itoa(cfg),
		"steps":                   strconv.Itoa(steps),
		"samples":                 "1",
		"image_strength":          sdxlImageStrength,
	}
	files := []formFile{{Field: "init_image", Filename: "init.png", Mime: "image/png", Data: png}}
	var resp sdxlResponse
	if err := s.c.postMultipart(ctx, sdxlImagePath, fields, files, &resp); err != nil {
		return nil, err
	}
	return resp.image()
}

// Variation re-renders the image through image-to-image with a neutral prompt.
func (s *Stability) Variation(ctx context.Context, png []byte) (*Image, error) {
	return s.Edit(ctx, png, "a variation of this image", false)
}
