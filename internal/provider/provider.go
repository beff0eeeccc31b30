// Package provider wraps the hosted image and video generation APIs behind one Engine interface.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/digkill/picly/internal/models"
)

const (
	EngineDalle       = "dalle"
	EngineStability   = "stability"
	EngineReplicate   = "replicate"
	EngineHuggingFace = "huggingface"
	EngineRunway      = "runway"
)

type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	QualityBoost   bool
	// ImageURL is the source frame for image-to-video engines.
	ImageURL string
	Duration int
}

func (r Request) dimensions() (int, int) {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = 1024
	}
	if h <= 0 {
		h = 1024
	}
	return w, h
}

// Image is either a remote URL or raw bytes with their mime type.
type Image struct {
	URL           string
	Bytes         []byte
	Mime          string
	RevisedPrompt string
}

type Engine interface {
	Name() string
	Tier() models.Tier
	Configured() bool
	CostFor(req Request) float64
	Generate(ctx context.Context, req Request) (*Image, error)
}

// Editor is implemented by engines that can modify an uploaded image.
type Editor interface {
	Edit(ctx context.Context, png []byte, prompt string, qualityBoost bool) (*Image, error)
	Variation(ctx context.Context, png []byte) (*Image, error)
	EditCost() float64
}

// Error is a non-2xx answer from a provider.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// Registry keeps engines in registration order.
type Registry struct {
	engines map[string]Engine
	order   []string
}

func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		if _, dup := r.engines[e.Name()]; !dup {
			r.order = append(r.order, e.Name())
		}
		r.engines[e.Name()] = e
	}
	return r
}

func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

func (r *Registry) All() []Engine {
	out := make([]Engine, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.engines[name])
	}
	return out
}
