package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

const (
	pbkdf2Iterations   = 100000
	pbkdf2KeyLen       = 32
	minPasswordLength  = 8
	referralCodeLength = 8
	referralAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type AuthService struct {
	log        *slog.Logger
	users      *repository.UserRepository
	sessions   *repository.SessionRepository
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(log *slog.Logger, users *repository.UserRepository, sessions *repository.SessionRepository, sessionTTL time.Duration) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &AuthService{
		log:        log.With(slog.String("component", "auth")),
		users:      users,
		sessions:   sessions,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// HashPassword derives a hex PBKDF2-HMAC-SHA256 key from password and a hex salt.
func HashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}

func NewSalt() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	for i, b := range buf {
		buf[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(buf), nil
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find by username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	existing, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find by email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &models.User{
		Username:           username,
		Email:              email,
		PasswordHash:       HashPassword(password, salt),
		Salt:               salt,
		SubscriptionStatus: models.SubscriptionNone,
		ReferralCode:       code,
		CreatedAt:          s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (s *AuthService) uniqueReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return "", err
		}
		taken, err := s.users.FindByReferralCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("find by referral code: %w", err)
		}
		if taken == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate referral code")
}

type LoginResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// Login accepts either the username or the email.
func (s *AuthService) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrMissingFields
	}
	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		user, err = s.users.FindByEmail(ctx, strings.ToLower(login))
		if err != nil {
			return nil, fmt.Errorf("find user: %w", err)
		}
	}
	if user == nil || HashPassword(password, user.Salt) != user.PasswordHash {
		return nil, ErrInvalidCredentials
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	session := &models.Session{
		UserID:    user.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to update last login", "user_id", user.ID, "err", err)
	}
	user.LastLogin = &now
	return &LoginResult{User: user, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// ValidateSession resolves a token to its user, deleting the session once it has expired.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidSession
	}
	if !s.now().Before(session.ExpiresAt) {
		if _, err := s.sessions.DeleteByToken(ctx, token); err != nil {
			s.log.Warn("failed to delete expired session", "err", err)
		}
		return nil, ErrSessionExpired
	}
	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidSession
	}
	return user, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if _, err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *AuthService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if n > 0 {
		s.log.Info("expired sessions removed", "count", n)
	}
	return n, nil
}
