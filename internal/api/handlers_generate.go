package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/picly/internal/imaging"
	"github.com/digkill/picly/internal/service"
)

const maxUpload = 20 << 20

type generateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	NegativePrompt string `json:"negative_prompt" validate:"max=2000"`
	Engine         string `json:"engine"`
	Style          string `json:"style" validate:"max=200"`
	Width          int    `json:"width" validate:"omitempty,min=256,max=2048"`
	Height         int    `json:"height" validate:"omitempty,min=256,max=2048"`
	QualityBoost   bool   `json:"quality_boost"`
	PostProcess    bool   `json:"post_process"`
	Upscale        int    `json:"upscale" validate:"omitempty,oneof=2 4"`
	ImageURL       string `json:"image_url" validate:"omitempty,url"`
	Duration       int    `json:"duration" validate:"omitempty,min=1,max=10"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Generation.Generate(r.Context(), userFrom(r.Context()).ID, service.GenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Engine:         strings.ToLower(strings.TrimSpace(req.Engine)),
		Style:          req.Style,
		Width:          req.Width,
		Height:         req.Height,
		QualityBoost:   req.QualityBoost,
		PostProcess:    req.PostProcess,
		Upscale:        req.Upscale,
		ImageURL:       req.ImageURL,
		Duration:       req.Duration,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// readUpload parses a multipart form and returns the "image" file contents.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, badRequest("Invalid multipart form")
	}
	f, _, err := r.FormFile("image")
	if err != nil {
		return nil, badRequest("image is required")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, badRequest("Could not read image")
	}
	if len(data) == 0 {
		return nil, badRequest("image is empty")
	}
	return data, nil
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(r.FormValue("edit_mode")))
	switch mode {
	case "", "edit", "inpaint", "variation":
	default:
		s.fail(w, badRequest("edit_mode must be one of: edit inpaint variation"))
		return
	}
	boost, _ := strconv.ParseBool(r.FormValue("quality_boost"))
	res, err := s.svc.Generation.Edit(r.Context(), userFrom(r.Context()).ID, service.EditRequest{
		Image:        data,
		Prompt:       r.FormValue("prompt"),
		Mode:         mode,
		Engine:       strings.ToLower(strings.TrimSpace(r.FormValue("engine"))),
		QualityBoost: boost,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	op := strings.ToLower(strings.TrimSpace(r.FormValue("operation")))
	if op == "" {
		op = imaging.OpAutoEnhance
	}
	url, err := s.svc.Generation.EnhanceUpload(r.Context(), data, op)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"image_url": url, "operation": op})
}

func (s *Server) handleUpscale(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	scale := 4
	if v := strings.TrimSpace(r.FormValue("scale")); v != "" {
		if scale, err = strconv.Atoi(v); err != nil {
			s.fail(w, badRequest("scale must be an integer from 1 to 4"))
			return
		}
	}
	url, err := s.svc.Generation.UpscaleUpload(r.Context(), data, scale)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"image_url": url, "scale": scale})
}
