package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and its background jobs.
type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	RequestTimeout  time.Duration
	CookieSecure    bool
	CORSOrigins     []string
	LogLevel        string
	LogFormat       string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SessionTTL      time.Duration
	AdminUsername   string
	AdminPassword   string
	ImageDir        string
	EmergencyFlag   string
	LearningEnabled bool

	CivitaiBaseURL string
	LexicaBaseURL  string
	RedditBaseURL  string

	FreeDailyCredits      int
	EmergencyFreeCredits  int
	ReferrerBonus         int
	ReferredPremiumBonus  int
	ReferredFreeBonus     int
	ReservationTTL        time.Duration
	SubscriptionPeriod    time.Duration
	RateLimitPerMinute    int
	RateLimitPerHour      int
	RateLimitPerDay       int
	HourlyCostLimit       float64
	DailyCostLimit        float64
	MinProfitMargin       float64
	AlertMinHourlyRequest int

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	StabilityAPIKey    string
	StabilityBaseURL   string
	ReplicateAPIToken  string
	ReplicateBaseURL   string
	HuggingFaceToken   string
	HuggingFaceBaseURL string
	HuggingFaceModel   string
	RunwayAPIKey       string
	RunwayBaseURL      string

	StripeSecretKey          string
	StripeWebhookSecret      string
	StripeCreditsPriceID     string
	StripeSubscriptionPrice  string
	StripeCreditsPerPackage  int
	StripeCreditsAmountCents int64
	StripeSubscriptionCents  int64
	StripeSuccessURL         string
	StripeCancelURL          string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// S3Enabled reports whether generated images go to object storage instead of ImageDir.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// StripeEnabled reports whether checkout and webhooks are available.
func (c Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":5000"),
		PublicBaseURL:   strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:5000"), "/"),
		RequestTimeout:  getDuration("HTTP_TIMEOUT", 120*time.Second),
		CookieSecure:    getBool("COOKIE_SECURE", false),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		DBDriver:        strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:           getEnv("DB_DSN", "picly.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getInt("REDIS_DB", 0),
		SessionTTL:      getDuration("SESSION_TTL", 7*24*time.Hour),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		ImageDir:        getEnv("IMAGE_DIR", "generated_images"),
		EmergencyFlag:   getEnv("EMERGENCY_FLAG_PATH", "emergency_mode.flag"),
		LearningEnabled: getBool("LEARNING_ENABLED", false),

		CivitaiBaseURL: normalizeBaseURL(getEnv("CIVITAI_BASE_URL", ""), "https://civitai.com"),
		LexicaBaseURL:  normalizeBaseURL(getEnv("LEXICA_BASE_URL", ""), "https://lexica.art"),
		RedditBaseURL:  normalizeBaseURL(getEnv("REDDIT_BASE_URL", ""), "https://www.reddit.com"),

		FreeDailyCredits:      getInt("FREE_DAILY_CREDITS", 10),
		EmergencyFreeCredits:  getInt("EMERGENCY_FREE_CREDITS", 5),
		ReferrerBonus:         getInt("REFERRER_BONUS", 10),
		ReferredPremiumBonus:  getInt("REFERRED_PREMIUM_BONUS", 10),
		ReferredFreeBonus:     getInt("REFERRED_FREE_BONUS", 5),
		ReservationTTL:        getDuration("RESERVATION_TTL", 15*time.Minute),
		SubscriptionPeriod:    getDuration("SUBSCRIPTION_PERIOD", 30*24*time.Hour),
		RateLimitPerMinute:    getInt("RATE_LIMIT_PER_MINUTE", 10),
		RateLimitPerHour:      getInt("RATE_LIMIT_PER_HOUR", 100),
		RateLimitPerDay:       getInt("RATE_LIMIT_PER_DAY", 500),
		HourlyCostLimit:       getFloat("HOURLY_COST_LIMIT", 50.00),
		DailyCostLimit:        getFloat("DAILY_COST_LIMIT", 500.00),
		MinProfitMargin:       getFloat("MIN_PROFIT_MARGIN", 0.20),
		AlertMinHourlyRequest: getInt("ALERT_MIN_HOURLY_REQUESTS", 10),

		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      normalizeBaseURL(getEnv("OPENAI_BASE_URL", ""), "https://api.openai.com"),
		StabilityAPIKey:    os.Getenv("STABILITY_API_KEY"),
		StabilityBaseURL:   normalizeBaseURL(getEnv("STABILITY_BASE_URL", ""), "https://api.stability.ai"),
		ReplicateAPIToken:  os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:   normalizeBaseURL(getEnv("REPLICATE_BASE_URL", ""), "https://api.replicate.com"),
		HuggingFaceToken:   os.Getenv("HUGGINGFACE_TOKEN"),
		HuggingFaceBaseURL: normalizeBaseURL(getEnv("HUGGINGFACE_BASE_URL", ""), "https://api-inference.huggingface.co"),
		HuggingFaceModel:   getEnv("HUGGINGFACE_MODEL", "black-forest-labs/FLUX.1-schnell"),
		RunwayAPIKey:       os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL:      normalizeBaseURL(getEnv("RUNWAY_BASE_URL", ""), "https://api.dev.runwayml.com"),

		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeCreditsPriceID:     os.Getenv("STRIPE_CREDITS_PRICE_ID"),
		StripeSubscriptionPrice:  os.Getenv("STRIPE_SUBSCRIPTION_PRICE_ID"),
		StripeCreditsPerPackage:  getInt("STRIPE_CREDITS_PER_PACKAGE", 100),
		StripeCreditsAmountCents: getInt64("STRIPE_CREDITS_AMOUNT_CENTS", 500),
		StripeSubscriptionCents:  getInt64("STRIPE_SUBSCRIPTION_AMOUNT_CENTS", 900),
		StripeSuccessURL:         getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:          getEnv("STRIPE_CANCEL_URL", ""),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "generated"),
	}

	if cfg.StripeSuccessURL == "" {
		cfg.StripeSuccessURL = cfg.PublicBaseURL + "/billing/success"
	}
	if cfg.StripeCancelURL == "" {
		cfg.StripeCancelURL = cfg.PublicBaseURL + "/billing/cancel"
	}

	var missing []string
	if cfg.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "mysql" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.StripeEnabled() {
		if cfg.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
		if cfg.StripeCreditsPriceID == "" {
			missing = append(missing, "STRIPE_CREDITS_PRICE_ID")
		}
		if cfg.StripeSubscriptionPrice == "" {
			missing = append(missing, "STRIPE_SUBSCRIPTION_PRICE_ID")
		}
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL adds a scheme to bare hosts and strips trailing slashes so
// clients can join paths with plain concatenation.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fallback
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Environments that inject variables directly have no file to load.
	return nil
}
