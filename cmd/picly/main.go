package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/picly/internal/api"
	"github.com/digkill/picly/internal/billing"
	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/database"
	"github.com/digkill/picly/internal/harvest"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/ratelimit"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/internal/scheduler"
	"github.com/digkill/picly/internal/service"
	"github.com/digkill/picly/internal/social"
	"github.com/digkill/picly/internal/storage"
	"github.com/digkill/picly/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	costRepo := repository.NewCostRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	profileRepo := repository.NewEngineProfileRepository(db)
	learningRepo := repository.NewLearningRepository(db)
	socialRepo := repository.NewSocialRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	emergency := service.NewEmergencyMode(logr, cfg.EmergencyFlag)
	if err := emergency.Load(); err != nil {
		log.Fatalf("emergency flag: %v", err)
	}

	authService := service.NewAuthService(logr, userRepo, sessionRepo, cfg.SessionTTL)
	creditService := service.NewCreditService(cfg, logr, userRepo, creditRepo, emergency)
	costService := service.NewCostService(cfg, logr, costRepo, emergency)
	optimizerService := service.NewOptimizerService(logr, profileRepo)
	analyticsService := service.NewAnalyticsService(logr, generationRepo, optimizerService)

	engines := provider.NewRegistry(
		provider.NewHuggingFace(cfg.HuggingFaceToken, cfg.HuggingFaceBaseURL, cfg.HuggingFaceModel, cfg.RequestTimeout, logr),
		provider.NewReplicate(cfg.ReplicateAPIToken, cfg.ReplicateBaseURL, cfg.RequestTimeout, logr),
		provider.NewStability(cfg.StabilityAPIKey, cfg.StabilityBaseURL, cfg.RequestTimeout, logr),
		provider.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RequestTimeout, logr),
		provider.NewRunway(cfg.RunwayAPIKey, cfg.RunwayBaseURL, cfg.RequestTimeout, logr),
	)

	store, imageDir, err := newStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	generationService := service.NewGenerationService(cfg, logr, engines, creditService, costService,
		analyticsService, optimizerService, emergency, userRepo, store)

	harvestTimeout := 30 * time.Second
	learningService := service.NewLearningService(logr, learningRepo,
		harvest.NewCivitai(cfg.CivitaiBaseURL, harvestTimeout, logr),
		harvest.NewLexica(cfg.LexicaBaseURL, harvestTimeout, logr),
		harvest.NewReddit(cfg.RedditBaseURL, harvestTimeout, logr),
	)
	socialService := service.NewSocialService(logr, socialRepo, social.NewHTTPPublisher(cfg.RequestTimeout, logr),
		generationService, learningService)

	var billingService *billing.Service
	if cfg.StripeEnabled() {
		billingService = billing.New(cfg, logr, userRepo, paymentRepo, creditRepo, costService)
	} else {
		logr.Warn("stripe not configured, billing routes disabled")
	}

	limiter := newLimiter(ctx, cfg, logr)

	jobs := scheduler.New(logr)
	jobs.Every("session_cleanup", time.Hour, func(ctx context.Context) error {
		_, err := authService.CleanupExpiredSessions(ctx)
		return err
	})
	jobs.Every("reservation_reaper", 5*time.Minute, func(ctx context.Context) error {
		_, err := creditService.ReapStale(ctx)
		return err
	})
	jobs.Every("cost_alerts", 5*time.Minute, func(ctx context.Context) error {
		_, err := costService.CheckCostAlerts(ctx)
		return err
	})
	jobs.Every("social_scheduled", time.Minute, func(ctx context.Context) error {
		_, _, err := socialService.ProcessScheduled(ctx, time.Now())
		return err
	})
	if billingService != nil {
		jobs.Every("subscription_expiry", time.Hour, func(ctx context.Context) error {
			_, err := billingService.ExpireSubscriptions(ctx)
			return err
		})
	}
	if cfg.LearningEnabled {
		jobs.Every("learning_session", time.Hour, func(ctx context.Context) error {
			_, err := learningService.RunSession(ctx)
			return err
		})
	}
	jobs.Start(ctx)
	defer jobs.Stop()

	server := api.NewServer(cfg, logr, api.Services{
		Auth:       authService,
		Credits:    creditService,
		Generation: generationService,
		Analytics:  analyticsService,
		Optimizer:  optimizerService,
		Costs:      costService,
		Emergency:  emergency,
		Learning:   learningService,
		Social:     socialService,
		Billing:    billingService,
	}, limiter, imageDir)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}

// newStore picks S3 when a bucket is configured. The returned directory is
// empty unless images are served from local disk.
func newStore(cfg config.Config) (storage.Store, string, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		return s3Store, "", err
	}
	local, err := storage.NewLocalStore(cfg.ImageDir, cfg.PublicBaseURL+"/generated_images")
	if err != nil {
		return nil, "", err
	}
	return local, local.Dir(), nil
}

// newLimiter uses Redis when it answers a ping and falls back to the in-process limiter.
func newLimiter(ctx context.Context, cfg config.Config, log *slog.Logger) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, using in-memory rate limiter", "addr", cfg.RedisAddr, "err", err)
		_ = client.Close()
		return ratelimit.NewMemoryLimiter()
	}
	return ratelimit.NewRedisLimiter(client)
}
