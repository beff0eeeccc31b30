package service

import "errors"

var (
	ErrMissingFields      = errors.New("All fields required")
	ErrWeakPassword       = errors.New("Password must be at least 8 characters")
	ErrUsernameTaken      = errors.New("Username already exists")
	ErrEmailTaken         = errors.New("Email already registered")
	ErrInvalidCredentials = errors.New("Invalid username or password")
	ErrInvalidSession     = errors.New("Invalid session")
	ErrSessionExpired     = errors.New("Session expired")

	ErrInsufficientCredits = errors.New("Insufficient credits")
	ErrAlreadyReferred     = errors.New("Referral already applied")
	ErrInvalidReferral     = errors.New("Invalid referral code")
	ErrSelfReferral        = errors.New("Cannot use your own referral code")

	ErrGenerationNotFound = errors.New("Generation not found")
	ErrAlreadyRated       = errors.New("Generation already rated")
	ErrInvalidRating      = errors.New("Rating must be between 1 and 5")
	ErrInvalidAction      = errors.New("Unknown action")
	ErrEmptyPrompt        = errors.New("Prompt is required")
	ErrUnknownEngine      = errors.New("Unknown engine")
	ErrEngineDisabled     = errors.New("Engine disabled in emergency mode")
	ErrEngineUnavailable  = errors.New("Engine not configured")
	ErrEditUnsupported    = errors.New("Engine does not support editing")
	ErrEmergencyMode      = errors.New("Service is in emergency mode")
	ErrRateLimited        = errors.New("Rate limit exceeded")

	ErrContentNotFound     = errors.New("Content not found")
	ErrNoCredentials       = errors.New("No credentials for platform")
	ErrUnsupportedPlatform = errors.New("Platform not supported")
	ErrNoPlatforms         = errors.New("At least one platform required")
	ErrPostNotFound        = errors.New("Post not found")
	ErrAlreadyPosted       = errors.New("Content already posted")
)

// NoCredentialsError names the platform that has no stored credentials.
type NoCredentialsError struct {
	Platform string
}

func (e *NoCredentialsError) Error() string { return "No credentials for " + e.Platform }

func (e *NoCredentialsError) Is(target error) bool { return target == ErrNoCredentials }
