package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/picly/internal/models"
)

const (
	fluxDev         = "black-forest-labs/flux-dev"
	fluxSchnell     = "black-forest-labs/flux-schnell"
	fluxDevCost     = 0.03
	fluxSchnellCost = 0.003
)

// Replicate runs Flux predictions and polls until they settle.
type Replicate struct {
	token        string
	c            *httpClient
	pollInterval time.Duration
	maxPolls     int
	retry        backoff
}

func NewReplicate(token, baseURL string, timeout time.Duration, log *slog.Logger) *Replicate {
	return &Replicate{
		token:        token,
		c:            newHTTPClient(EngineReplicate, baseURL, "Token "+token, timeout, log),
		pollInterval: time.Second,
		maxPolls:     120,
		retry:        backoff{attempts: 5, base: time.Second},
	}
}

func (r *Replicate) Name() string      { return EngineReplicate }
func (r *Replicate) Tier() models.Tier { return models.TierFree }
func (r *Replicate) Configured() bool  { return r.token != "" }

func (r *Replicate) CostFor(req Request) float64 {
	if req.QualityBoost {
		return fluxDevCost
	}
	return fluxSchnellCost
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

// firstOutput handles both the list and the single-string output shapes.
func (p prediction) firstOutput() (string, error) {
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		if len(list) == 0 {
			return "", fmt.Errorf("replicate: empty output")
		}
		return list[0], nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err != nil || single == "" {
		return "", fmt.Errorf("replicate: unexpected output %s", truncateBody(p.Output))
	}
	return single, nil
}

func (r *Replicate) Generate(ctx context.Context, req Request) (*Image, error) {
	w, h := req.dimensions()
	model, quality := fluxSchnell, 80
	if req.QualityBoost {
		model, quality = fluxDev, 100
	}
	input := map[string]any{
		"prompt":         req.Prompt,
		"num_outputs":    1,
		"aspect_ratio":   aspectRatio(w, h),
		"output_format":  "png",
		"output_quality": quality,
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	payload := map[string]any{
		"version": model,
		"input":   input,
	}

	var created prediction
	err := r.retry.do(ctx, func() error {
		return r.c.postJSON(ctx, "/v1/predictions", payload, &created)
	})
	if err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("replicate: empty prediction id")
	}
	r.c.log.Info("prediction created", "prediction_id", created.ID, "model", model)
	return r.poll(ctx, created.ID)
}

func (r *Replicate) poll(ctx context.Context, id string) (*Image, error) {
	path := "/v1/predictions/" + id
	for attempt := 0; attempt < r.maxPolls; attempt++ {
		var p prediction
		err := r.retry.do(ctx, func() error {
			return r.c.getJSON(ctx, path, &p)
		})
		if err != nil {
			return nil, fmt.Errorf("get prediction: %w", err)
		}

		switch p.Status {
		case "succeeded":
			out, err := p.firstOutput()
			if err != nil {
				return nil, err
			}
			r.c.log.Info("prediction completed", "prediction_id", id, "attempt", attempt+1)
			return &Image{URL: out}, nil
		case "failed", "canceled":
			return nil, fmt.Errorf("prediction %s: %v", p.Status, p.Error)
		}

		if attempt < r.maxPolls-1 {
			if err := wait(ctx, r.pollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("prediction timeout after %d attempts", r.maxPolls)
}

// aspectRatio reduces width:height, snapping to the ratios Flux accepts.
func aspectRatio(w, h int) string {
	switch {
	case w == h:
		return "1:1"
	case w*9 == h*16:
		return "16:9"
	case w*16 == h*9:
		return "9:16"
	case w*3 == h*4:
		return "4:3"
	case w*4 == h*3:
		return "3:4"
	case w > h:
		return "3:2"
	default:
		return "2:3"
	}
}
