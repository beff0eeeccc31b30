package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// CreditSource says which counter paid for a generation.
type CreditSource string

const (
	CreditFree         CreditSource = "free"
	CreditPremium      CreditSource = "premium"
	CreditSubscription CreditSource = "subscription"
)

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationRefunded  ReservationStatus = "refunded"
)

// Tier splits engines into the free allowance and the paid one.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

type User struct {
	ID                    int64
	Username              string
	Email                 string
	PasswordHash          string
	Salt                  string
	PremiumCredits        int
	FreeCreditsToday      int
	FreeCreditsResetOn    string
	SubscriptionStatus    SubscriptionStatus
	SubscriptionExpiresAt *time.Time
	StripeCustomerID      string
	ReferralCode          string
	ReferredBy            *int64
	TotalGenerations      int
	TotalCreditsPurchased int
	CreatedAt             time.Time
	LastLogin             *time.Time
}

// SubscriptionActiveAt reports whether the subscription covers t.
func (u *User) SubscriptionActiveAt(t time.Time) bool {
	if u.SubscriptionStatus != SubscriptionActive {
		return false
	}
	return u.SubscriptionExpiresAt == nil || u.SubscriptionExpiresAt.After(t)
}

type Session struct {
	ID        int64
	UserID    int64
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type CreditBalance struct {
	Free                  int                `json:"free_credits"`
	Premium               int                `json:"premium_credits"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at,omitempty"`
	Unlimited             bool               `json:"unlimited_premium"`
	ReferralCode          string             `json:"referral_code"`
}

type CreditReservation struct {
	ID           string
	UserID       int64
	Source       CreditSource
	Amount       int
	Engine       string
	Status       ReservationStatus
	GenerationID string
	Reason       string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Bucket    string    `json:"bucket"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentKind string

const (
	PaymentCredits      PaymentKind = "credits"
	PaymentSubscription PaymentKind = "subscription"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type Payment struct {
	ID          int64
	UserID      int64
	Provider    string
	ProviderRef string
	Kind        PaymentKind
	Credits     int
	AmountCents int64
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Generation is the analytics record of one image or video produced for a user.
type Generation struct {
	ID            string     `json:"generation_id"`
	UserID        int64      `json:"user_id"`
	Prompt        string     `json:"prompt"`
	PromptHash    string     `json:"prompt_hash"`
	Engine        string     `json:"engine"`
	Settings      string     `json:"settings"`
	ImageURL      string     `json:"image_url"`
	Cost          float64    `json:"cost"`
	CreditSource  string     `json:"credit_source"`
	DurationMS    int64      `json:"duration_ms"`
	Rating        *int       `json:"rating,omitempty"`
	QualityScore  *float64   `json:"quality_score,omitempty"`
	Feedback      string     `json:"feedback,omitempty"`
	Downloaded    bool       `json:"downloaded"`
	Shared        bool       `json:"shared"`
	Edited        bool       `json:"edited"`
	Regenerated   bool       `json:"regenerated"`
	UsedInProject bool       `json:"used_in_project"`
	CreatedAt     time.Time  `json:"created_at"`
	RatedAt       *time.Time `json:"rated_at,omitempty"`
}

type PromptAnalytics struct {
	PromptHash       string  `json:"prompt_hash"`
	Engine           string  `json:"engine"`
	Prompt           string  `json:"prompt"`
	TotalGenerations int     `json:"total_generations"`
	TotalRatings     int     `json:"total_ratings"`
	RatingCounts     [5]int  `json:"rating_counts"`
	AvgRating        float64 `json:"avg_rating"`
	SuccessRate      float64 `json:"success_rate"`
	DownloadRate     float64 `json:"download_rate"`
	ShareRate        float64 `json:"share_rate"`
}

type ModelPerformance struct {
	Engine          string  `json:"engine"`
	Day             string  `json:"day"`
	Generations     int     `json:"generations"`
	Failures        int     `json:"failures"`
	Ratings         int     `json:"ratings"`
	AvgRating       float64 `json:"avg_rating"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	TotalCost       float64 `json:"total_cost"`
	RatingSum       int     `json:"-"`
	TotalDurationMS int64   `json:"-"`
}

type EngineProfile struct {
	Engine            string    `json:"engine"`
	SettingsHash      string    `json:"settings_hash"`
	SettingsJSON      string    `json:"settings"`
	TotalUses         int       `json:"total_uses"`
	AvgRating         float64   `json:"avg_rating"`
	AvgQualityScore   float64   `json:"avg_quality_score"`
	AvgGenerationTime float64   `json:"avg_generation_time"`
	AvgCost           float64   `json:"avg_cost"`
	SuccessRate       float64   `json:"success_rate"`
	QualityPerDollar  float64   `json:"quality_per_dollar"`
	QualityPerSecond  float64   `json:"quality_per_second"`
	OverallScore      float64   `json:"overall_score"`
	LastUsed          time.Time `json:"last_used"`
}

type APICost struct {
	ID        int64
	UserID    *int64
	Service   string
	Operation string
	Cost      float64
	Success   bool
	RequestID string
	CreatedAt time.Time
}

type Revenue struct {
	ID          int64
	UserID      *int64
	Amount      float64
	Type        string
	Description string
	CreatedAt   time.Time
}

type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

type CostAlert struct {
	Level     AlertLevel `json:"level"`
	Metric    string     `json:"metric"`
	Message   string     `json:"message"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Bucket    string     `json:"bucket"`
	CreatedAt time.Time  `json:"created_at"`
}

type HarvestedPrompt struct {
	ID          int64
	Source      string
	SourceRef   string
	Prompt      string
	PromptHash  string
	Engagement  float64
	ImageURL    string
	Metadata    string
	Analyzed    bool
	HarvestedAt time.Time
}

type PatternKind string

const (
	PatternQualityModifier PatternKind = "quality_modifier"
	PatternStyle           PatternKind = "style"
	PatternStructure       PatternKind = "structure"
	PatternTrending        PatternKind = "trending"
	PatternNegative        PatternKind = "negative"
)

type LearnedPattern struct {
	Kind        PatternKind `json:"kind"`
	Value       string      `json:"value"`
	Occurrences int         `json:"occurrences"`
	Score       float64     `json:"score"`
	LastSeen    time.Time   `json:"last_seen"`
}

type LearningSession struct {
	ID                 int64
	Kind               string
	Status             string
	ItemsProcessed     int
	PatternsDiscovered int
	Error              string
	StartedAt          time.Time
	FinishedAt         *time.Time
}

type ContentStatus string

const (
	ContentDraft   ContentStatus = "draft"
	ContentPending ContentStatus = "pending"
	ContentPosted  ContentStatus = "posted"
	ContentFailed  ContentStatus = "failed"
)

type ContentItem struct {
	ID           int64               `json:"id"`
	UserID       int64               `json:"user_id"`
	Topic        string              `json:"topic"`
	Platforms    []string            `json:"platforms"`
	Language     string              `json:"language"`
	Quality      string              `json:"quality"`
	ContentType  string              `json:"content_type"`
	Caption      string              `json:"caption"`
	Hashtags     map[string][]string `json:"hashtags"`
	MediaURL     string              `json:"media_url,omitempty"`
	Status       ContentStatus       `json:"status"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	PostedAt     *time.Time          `json:"posted_at,omitempty"`
}

type PostedContent struct {
	ID         int64     `json:"id"`
	ContentID  int64     `json:"content_id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"external_id"`
	URL        string    `json:"url"`
	Likes      int       `json:"likes"`
	Shares     int       `json:"shares"`
	Comments   int       `json:"comments"`
	Views      int       `json:"views"`
	PostedAt   time.Time `json:"posted_at"`
}

type PlatformCredential struct {
	Platform    string
	AccessToken string
	Endpoint    string
	AccountID   string
	UpdatedAt   time.Time
}
