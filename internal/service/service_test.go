package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/database/dbtest"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/pkg/logger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	cfg       config.Config
	clock     *clock
	users     *repository.UserRepository
	credits   *repository.CreditRepository
	costs     *repository.CostRepository
	gens      *repository.GenerationRepository
	profiles  *repository.EngineProfileRepository
	social    *repository.SocialRepository
	emergency *EmergencyMode
	auth      *AuthService
	creditSvc *CreditService
	costSvc   *CostService
	optimizer *OptimizerService
	analytics *AnalyticsService
}

func testConfig() config.Config {
	return config.Config{
		FreeDailyCredits:      10,
		EmergencyFreeCredits:  5,
		ReferrerBonus:         10,
		ReferredPremiumBonus:  10,
		ReferredFreeBonus:     5,
		ReservationTTL:        15 * time.Minute,
		SessionTTL:            7 * 24 * time.Hour,
		HourlyCostLimit:       50,
		DailyCostLimit:        500,
		MinProfitMargin:       0.20,
		AlertMinHourlyRequest: 10,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	log := logger.Discard()
	cfg := testConfig()
	c := &clock{t: time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)}

	env := &testEnv{
		cfg:      cfg,
		clock:    c,
		users:    repository.NewUserRepository(db),
		credits:  repository.NewCreditRepository(db),
		costs:    repository.NewCostRepository(db),
		gens:     repository.NewGenerationRepository(db),
		profiles: repository.NewEngineProfileRepository(db),
		social:   repository.NewSocialRepository(db),
	}
	env.emergency = NewEmergencyMode(log, filepath.Join(t.TempDir(), "emergency_mode.flag"))
	env.emergency.now = c.now
	env.auth = NewAuthService(log, env.users, repository.NewSessionRepository(db), cfg.SessionTTL)
	env.auth.now = c.now
	env.creditSvc = NewCreditService(cfg, log, env.users, env.credits, env.emergency)
	env.creditSvc.now = c.now
	env.costSvc = NewCostService(cfg, log, env.costs, env.emergency)
	env.costSvc.now = c.now
	env.optimizer = NewOptimizerService(log, env.profiles)
	env.optimizer.now = c.now
	env.analytics = NewAnalyticsService(log, env.gens, env.optimizer)
	env.analytics.now = c.now
	t.Cleanup(func() { _ = env.emergency.Deactivate() })
	return env
}

func (e *testEnv) register(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), name, name+"@example.com", "secret123")
	require.NoError(t, err)
	return u
}
