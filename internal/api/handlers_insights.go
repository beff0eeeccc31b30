package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/picly/internal/billing"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/service"
)

type checkoutRequest struct {
	Kind string `json:"kind" validate:"required,oneof=credits subscription"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.svc.Billing == nil {
		s.fail(w, billing.ErrDisabled)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Billing.CreateCheckout(r.Context(), userFrom(r.Context()).ID, models.PaymentKind(req.Kind))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleStripeWebhook needs the raw body for signature verification.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.svc.Billing == nil {
		s.fail(w, billing.ErrDisabled)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		s.fail(w, badRequest("Could not read body"))
		return
	}
	if err := s.svc.Billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.log.Error("stripe webhook", "err", err)
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if s.svc.Billing == nil {
		s.fail(w, billing.ErrDisabled)
		return
	}
	info, err := s.svc.Billing.Subscription(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"subscription": info})
}

type ratingRequest struct {
	Rating       int      `json:"rating" validate:"required,min=1,max=5"`
	QualityScore *float64 `json:"quality_score" validate:"omitempty,min=0,max=10"`
	Feedback     string   `json:"feedback" validate:"max=2000"`
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	pa, err := s.svc.Analytics.SubmitRating(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"), service.RatingInput{
		Rating:       req.Rating,
		QualityScore: req.QualityScore,
		Feedback:     req.Feedback,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "Rating saved", "prompt_analytics": pa})
}

type actionRequest struct {
	Action string `json:"action" validate:"required"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if err := s.svc.Analytics.TrackAction(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"), action); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"action": action})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Analytics.Dashboard(r.Context(), queryInt(r, "days", 30))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTopPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.svc.Analytics.TopPrompts(r.Context(), queryInt(r, "min_ratings", 5), queryInt(r, "limit", 100), r.URL.Query().Get("engine"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if prompts == nil {
		prompts = []models.PromptAnalytics{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (s *Server) handlePromptSuggestions(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		s.fail(w, badRequest("keyword is required"))
		return
	}
	prompts, err := s.svc.Analytics.PromptSuggestions(r.Context(), keyword, queryInt(r, "limit", 10))
	if err != nil {
		s.fail(w, err)
		return
	}
	if prompts == nil {
		prompts = []models.PromptAnalytics{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keyword": keyword, "suggestions": prompts})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Analytics.UserStats(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		s.fail(w, service.ErrEmptyPrompt)
		return
	}
	rec, err := s.svc.Optimizer.OptimalEngine(r.Context(), prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recommendation": rec})
}

func (s *Server) handleEngineComparison(w http.ResponseWriter, r *http.Request) {
	engines, err := s.svc.Optimizer.EngineComparison(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	categories, err := s.svc.Optimizer.CategoryInsights(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"engines": engines, "categories": categories})
}

func (s *Server) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Learning.Stats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stats": st})
}

type suggestionsRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

func (s *Server) handleLearningSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	sug, err := s.svc.Learning.EnhancementSuggestions(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"suggestions": sug})
}
