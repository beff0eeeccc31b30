package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 10, cfg.FreeDailyCredits)
	assert.Equal(t, 5, cfg.EmergencyFreeCredits)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.InDelta(t, 50.0, cfg.HourlyCostLimit, 0.0001)
	assert.InDelta(t, 500.0, cfg.DailyCostLimit, 0.0001)
	assert.Equal(t, "emergency_mode.flag", cfg.EmergencyFlag)
	assert.Equal(t, "https://api.openai.com", cfg.OpenAIBaseURL)
	assert.False(t, cfg.StripeEnabled())
	assert.False(t, cfg.S3Enabled())
	assert.Empty(t, cfg.AdminPassword)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DB_DRIVER=mysql\nDB_DSN=user:pass@tcp(localhost:3306)/picly\nFREE_DAILY_CREDITS=12\nHTTP_TIMEOUT=45\nREPLICATE_BASE_URL=replicate.local/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	// Overload replaces these; registering them lets t.Setenv restore the originals.
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("FREE_DAILY_CREDITS", "")
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("REPLICATE_BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, 12, cfg.FreeDailyCredits)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "https://replicate.local", cfg.ReplicateBaseURL)
}

func TestLoadStripeRequiresWebhookSecret(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_CREDITS_PRICE_ID", "price_credits")
	t.Setenv("STRIPE_SUBSCRIPTION_PRICE_ID", "price_sub")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load()
	require.Error(t, err)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://fallback", normalizeBaseURL("  ", "https://fallback"))
	assert.Equal(t, "https://api.example.com", normalizeBaseURL("api.example.com", "x"))
	assert.Equal(t, "http://localhost:8080", normalizeBaseURL("http://localhost:8080/", "x"))
	assert.Equal(t, "https://replicate.local", normalizeBaseURL("replicate.local/", "x"))
	assert.Equal(t, "https://api.example.com/v1", normalizeBaseURL("api.example.com/v1/", "x"))
	assert.Equal(t, "https://localhost:8080", normalizeBaseURL("localhost:8080", "x"))
	assert.Equal(t, "x", normalizeBaseURL("https://", "x"))
}
