// Package api exposes the HTTP JSON interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/digkill/picly/internal/billing"
	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/metrics"
	"github.com/digkill/picly/internal/ratelimit"
	"github.com/digkill/picly/internal/service"
)

// Services groups everything the handlers call into. Billing may be nil when
// Stripe is not configured.
type Services struct {
	Auth       *service.AuthService
	Credits    *service.CreditService
	Generation *service.GenerationService
	Analytics  *service.AnalyticsService
	Optimizer  *service.OptimizerService
	Costs      *service.CostService
	Emergency  *service.EmergencyMode
	Learning   *service.LearningService
	Social     *service.SocialService
	Billing    *billing.Service
}

type Server struct {
	cfg     config.Config
	log     *slog.Logger
	svc     Services
	limiter ratelimit.Limiter
	router  *chi.Mux
}

// NewServer builds the router. imageDir, when set, is served under /generated_images/.
func NewServer(cfg config.Config, log *slog.Logger, svc Services, limiter ratelimit.Limiter, imageDir string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:     cfg,
		log:     log.With(slog.String("component", "api")),
		svc:     svc,
		limiter: limiter,
		router:  r,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if imageDir != "" {
		r.Handle("/generated_images/*", http.StripPrefix("/generated_images/", http.FileServer(http.Dir(imageDir))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimit("auth")).Post("/register", s.handleRegister)
			r.With(s.rateLimit("auth")).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.With(s.requireUser).Get("/validate", s.handleValidate)
		})

		r.Post("/billing/webhook", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.With(s.rateLimit("generate")).Post("/generate", s.handleGenerate)
			r.With(s.rateLimit("generate")).Post("/edit", s.handleEdit)
			r.With(s.rateLimit("generate")).Post("/enhance", s.handleEnhance)
			r.With(s.rateLimit("generate")).Post("/upscale", s.handleUpscale)

			r.Get("/credits", s.handleCredits)
			r.Post("/credits/referral", s.handleReferral)
			r.Get("/credits/history", s.handleCreditHistory)

			r.Post("/billing/checkout", s.handleCheckout)
			r.Get("/billing/subscription", s.handleSubscription)

			r.Post("/generations/{id}/rating", s.handleRating)
			r.Post("/generations/{id}/action", s.handleAction)
			r.Get("/analytics/dashboard", s.handleDashboard)
			r.Get("/analytics/top-prompts", s.handleTopPrompts)
			r.Get("/analytics/suggestions", s.handlePromptSuggestions)
			r.Get("/analytics/me", s.handleUserStats)

			r.Get("/optimizer/recommend", s.handleRecommend)
			r.Get("/optimizer/engines", s.handleEngineComparison)

			r.Get("/learning/stats", s.handleLearningStats)
			r.Post("/learning/suggestions", s.handleLearningSuggestions)

			r.Post("/social/content", s.handleCreateContent)
			r.Get("/social/content", s.handleListContent)
			r.Post("/social/content/{id}/schedule", s.handleScheduleContent)
			r.Post("/social/content/{id}/post", s.handlePostContent)
			r.Get("/social/report", s.handleSocialReport)
		})

		// Admin routes exist only when a password is configured.
		if s.cfg.AdminPassword == "" {
			s.log.Warn("ADMIN_PASSWORD not set, admin routes disabled")
			return
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.basicAuth)
			r.Get("/costs/hourly", s.handleHourlyCosts)
			r.Get("/costs/daily", s.handleDailyCosts)
			r.Get("/costs/breakdown", s.handleCostBreakdown)
			r.Get("/costs/users", s.handleTopUsers)
			r.Get("/costs/report", s.handleCostReport)
			r.Get("/costs/alerts", s.handleAlerts)
			r.Post("/emergency/activate", s.handleEmergencyActivate)
			r.Post("/emergency/deactivate", s.handleEmergencyDeactivate)
			r.Post("/learning/run", s.handleLearningRun)
			r.Post("/social/posts/{id}/engagement", s.handleEngagement)
		})
		r.With(s.basicAuth).Put("/social/credentials/{platform}", s.handleSaveCredentials)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"engines":   s.svc.Generation.Statuses(),
		"emergency": s.svc.Emergency.Status(),
		"billing":   s.svc.Billing != nil,
	})
}
