package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/picly/internal/models"
)

const defaultHFModel = "black-forest-labs/FLUX.1-schnell"

// HuggingFace calls the hosted inference API, which answers with raw image bytes.
type HuggingFace struct {
	token string
	model string
	c     *httpClient
	retry backoff
}

func NewHuggingFace(token, baseURL, model string, timeout time.Duration, log *slog.Logger) *HuggingFace {
	if model == "" {
		model = defaultHFModel
	}
	return &HuggingFace{
		token: token,
		model: model,
		c:     newHTTPClient(EngineHuggingFace, baseURL, "Bearer "+token, timeout, log),
		retry: backoff{attempts: 5, base: 2 * time.Second},
	}
}

func (h *HuggingFace) Name() string            { return EngineHuggingFace }
func (h *HuggingFace) Tier() models.Tier       { return models.TierFree }
func (h *HuggingFace) Configured() bool        { return h.token != "" }
func (h *HuggingFace) CostFor(Request) float64 { return 0 }

func (h *HuggingFace) Generate(ctx context.Context, req Request) (*Image, error) {
	w, ht := req.dimensions()
	steps := 4
	if req.QualityBoost {
		steps = 8
	}
	params := map[string]any{
		"width":               w,
		"height":              ht,
		"num_inference_steps": steps,
	}
	if req.NegativePrompt != "" {
		params["negative_prompt"] = req.NegativePrompt
	}
	body, err := json.Marshal(map[string]any{"inputs": req.Prompt, "parameters": params})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var resp *response
	// A cold model answers 503 until it is loaded.
	err = h.retry.do(ctx, func() error {
		var doErr error
		resp, doErr = h.c.do(ctx, http.MethodPost, "/models/"+h.model, bytes.NewReader(body), "application/json", "image/png")
		return doErr
	})
	if err != nil {
		return nil, err
	}

	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("huggingface: unexpected content type %q (body=%s)", mime, truncateBody(resp.Body))
	}
	return &Image{Bytes: resp.Body, Mime: mime}, nil
}
