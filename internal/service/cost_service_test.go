package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/pkg/logger"
)

func TestDailyOverspendKeepsEmergencyArmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Spread the spend over several hours so only the daily limit is crossed.
	for i := 0; i < 11; i++ {
		require.NoError(t, env.costSvc.LogAPICost(ctx, nil, "dalle", "generate", 49, true, ""))
		env.clock.advance(time.Hour)
	}
	assert.True(t, env.emergency.Active())

	alerts, err := env.costSvc.Alerts(ctx, 10)
	require.NoError(t, err)
	critical := 0
	for _, a := range alerts {
		if a.Level == models.AlertCritical {
			critical++
		}
	}
	assert.Equal(t, 1, critical)

	// Spend that keeps the day over the limit re-arms the switch after an admin
	// turns it off, without writing a second critical alert.
	require.NoError(t, env.emergency.Deactivate())
	require.NoError(t, env.costSvc.LogAPICost(ctx, nil, "dalle", "generate", 40, true, ""))
	assert.True(t, env.emergency.Active())

	alerts, err = env.costSvc.Alerts(ctx, 20)
	require.NoError(t, err)
	critical = 0
	for _, a := range alerts {
		if a.Level == models.AlertCritical {
			critical++
		}
	}
	assert.Equal(t, 1, critical)
}

func TestHourlyAlertsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.costSvc.LogAPICost(ctx, nil, "runway", "generate", 60, true, ""))
	alerts, err := env.costSvc.CheckCostAlerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, metricHourlyCost, alerts[0].Metric)

	_, err = env.costSvc.CheckCostAlerts(ctx)
	require.NoError(t, err)
	stored, err := env.costSvc.Alerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.False(t, env.emergency.Active())
}

func TestHourlyStatsMargin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := int64(7)

	require.NoError(t, env.costSvc.LogAPICost(ctx, &uid, "dalle", "generate", 0.08, true, ""))
	require.NoError(t, env.costSvc.LogAPICost(ctx, &uid, "replicate", "generate", 0.02, true, ""))
	require.NoError(t, env.costSvc.LogRevenue(ctx, &uid, 0.50, "credits", "pack"))

	st, err := env.costSvc.HourlyStats(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, st.TotalCost, 1e-9)
	assert.InDelta(t, 0.40, st.Profit, 1e-9)
	assert.InDelta(t, 80.0, st.Margin, 1e-6)
	assert.Equal(t, 2, st.Requests)

	report, err := env.costSvc.Report(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "dalle")
}

func TestEmergencyModePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emergency_mode.flag")
	em := NewEmergencyMode(logger.Discard(), path)

	activated, err := em.Activate("daily limit")
	require.NoError(t, err)
	assert.True(t, activated)
	activated, err = em.Activate("again")
	require.NoError(t, err)
	assert.False(t, activated)

	restored := NewEmergencyMode(logger.Discard(), path)
	require.NoError(t, restored.Load())
	st := restored.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "daily limit", st.Reason)
	require.NotNil(t, st.Since)

	require.NoError(t, restored.Deactivate())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	again := NewEmergencyMode(logger.Discard(), path)
	require.NoError(t, again.Load())
	assert.False(t, again.Active())
}
