package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/picly/internal/models"
)

const (
	runwayModel      = "gen3a_turbo"
	runwayAPIVersion = "2024-11-06"
	runwayCost       = 0.50
)

var ErrSourceImageRequired = errors.New("runway: source image url is required")

// Runway turns a still image into a short Gen-3 video clip.
type Runway struct {
	apiKey       string
	c            *httpClient
	pollInterval time.Duration
	maxPolls     int
}

func NewRunway(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) *Runway {
	c := newHTTPClient(EngineRunway, baseURL, "Bearer "+apiKey, timeout, log)
	c.headers = map[string]string{"X-Runway-Version": runwayAPIVersion}
	return &Runway{
		apiKey:       apiKey,
		c:            c,
		pollInterval: 5 * time.Second,
		maxPolls:     60,
	}
}

func (r *Runway) Name() string            { return EngineRunway }
func (r *Runway) Tier() models.Tier       { return models.TierPremium }
func (r *Runway) Configured() bool        { return r.apiKey != "" }
func (r *Runway) CostFor(Request) float64 { return runwayCost }

type runwayTask struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Output  []string `json:"output"`
	Failure string   `json:"failure"`
}

func (r *Runway) Generate(ctx context.Context, req Request) (*Image, error) {
	if req.ImageURL == "" {
		return nil, ErrSourceImageRequired
	}
	duration := req.Duration
	if duration != 10 {
		duration = 5
	}
	ratio := "1280:768"
	if w, h := req.dimensions(); h > w {
		ratio = "768:1280"
	}
	payload := map[string]any{
		"model":       runwayModel,
		"promptImage": req.ImageURL,
		"promptText":  req.Prompt,
		"duration":    duration,
		"ratio":       ratio,
	}

	var created runwayTask
	if err := r.c.postJSON(ctx, "/v1/image_to_video", payload, &created); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("runway: empty task id")
	}
	r.c.log.Info("runway task created", "task_id", created.ID)

	for attempt := 0; attempt < r.maxPolls; attempt++ {
		var task runwayTask
		if err := r.c.getJSON(ctx, "/v1/tasks/"+created.ID, &task); err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		switch task.Status {
		case "SUCCEEDED":
			if len(task.Output) == 0 {
				return nil, fmt.Errorf("runway: no output in result")
			}
			return &Image{URL: task.Output[0], Mime: "video/mp4"}, nil
		case "FAILED", "CANCELLED":
			return nil, fmt.Errorf("runway task failed: %s", task.Failure)
		}
		if attempt%10 == 0 {
			r.c.log.Info("runway task waiting", "task_id", created.ID, "status", task.Status, "attempt", attempt+1)
		}
		if attempt < r.maxPolls-1 {
			if err := wait(ctx, r.pollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("task timeout after %d attempts", r.maxPolls)
}
