package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/picly/internal/models"
)

const (
	dalleModel       = "dall-e-3"
	dalleHDCost      = 0.08
	dalleStdCost     = 0.04
	dalleEditCost    = 0.02
	dalleEditSize    = "1024x1024"
	dalleImagesPath  = "/v1/images/generations"
	dalleEditPath    = "/v1/images/edits"
	dalleVariantPath = "/v1/images/variations"
)

// OpenAI generates with DALL-E 3 and edits through the images API.
type OpenAI struct {
	apiKey string
	c      *httpClient
}

func NewOpenAI(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) *OpenAI {
	return &OpenAI{
		apiKey: apiKey,
		c:      newHTTPClient(EngineDalle, baseURL, "Bearer "+apiKey, timeout, log),
	}
}

func (o *OpenAI) Name() string      { return EngineDalle }
func (o *OpenAI) Tier() models.Tier { return models.TierPremium }
func (o *OpenAI) Configured() bool  { return o.apiKey != "" }
func (o *OpenAI) EditCost() float64 { return dalleEditCost }

func (o *OpenAI) CostFor(req Request) float64 {
	if req.QualityBoost {
		return dalleHDCost
	}
	return dalleStdCost
}

// dalleSize maps arbitrary dimensions to the three sizes DALL-E 3 accepts.
func dalleSize(width, height int) string {
	switch {
	case width == height:
		return "1024x1024"
	case width > height:
		return "1792x1024"
	default:
		return "1024x1792"
	}
}

type dalleResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (r dalleResponse) image() (*Image, error) {
	if len(r.Data) == 0 || r.Data[0].URL == "" {
		return nil, fmt.Errorf("dalle: empty data in response")
	}
	return &Image{URL: r.Data[0].URL, RevisedPrompt: r.Data[0].RevisedPrompt}, nil
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Image, error) {
	w, h := req.dimensions()
	quality := "standard"
	if req.QualityBoost {
		quality = "hd"
	}
	payload := map[string]any{
		"model":   dalleModel,
		"prompt":  req.Prompt,
		"n":       1,
		"size":    dalleSize(w, h),
		"quality": quality,
	}
	var resp dalleResponse
	if err := o.c.postJSON(ctx, dalleImagesPath, payload, &resp); err != nil {
		return nil, err
	}
	return resp.image()
}

// Edit expects a 1024x1024 RGBA PNG.
func (o *OpenAI) Edit(ctx context.Context, png []byte, prompt string, _ bool) (*Image, error) {
	fields := map[string]string{
		"prompt": prompt,
		"n":      "1",
		"size":   dalleEditSize,
	}
	files := []formFile{{Field: "image", Filename: "image.png", Mime: "image/png", Data: png}}
	var resp dalleResponse
	if err := o.c.postMultipart(ctx, dalleEditPath, fields, files, &resp); err != nil {
		return nil, err
	}
	return resp.image()
}

func (o *OpenAI) Variation(ctx context.Context, png []byte) (*Image, error) {
	fields := map[string]string{
		"n":    "1",
		"size": dalleEditSize,
	}
	files := []formFile{{Field: "image", Filename: "image.png", Mime: "image/png", Data: png}}
	var resp dalleResponse
	if err := o.c.postMultipart(ctx, dalleVariantPath, fields, files, &resp); err != nil {
		return nil, err
	}
	return resp.image()
}
