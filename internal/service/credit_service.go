package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/metrics"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

const (
	bucketFree    = "free"
	bucketPremium = "premium"
)

// CreditService owns every change to a user's credit counters.
type CreditService struct {
	cfg       config.Config
	log       *slog.Logger
	users     *repository.UserRepository
	credits   *repository.CreditRepository
	emergency *EmergencyMode
	now       func() time.Time
}

func NewCreditService(cfg config.Config, log *slog.Logger, users *repository.UserRepository, credits *repository.CreditRepository, emergency *EmergencyMode) *CreditService {
	return &CreditService{
		cfg:       cfg,
		log:       log.With(slog.String("component", "credits")),
		users:     users,
		credits:   credits,
		emergency: emergency,
		now:       time.Now,
	}
}

// DailyAllowance is the free credit count granted at each UTC day rollover.
func (s *CreditService) DailyAllowance() int {
	if s.emergency != nil && s.emergency.Active() {
		return s.cfg.EmergencyFreeCredits
	}
	return s.cfg.FreeDailyCredits
}

func today(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// refreshDaily resets the free counter on the first access of a new UTC day.
func (s *CreditService) refreshDaily(ctx context.Context, users *repository.UserRepository, user *models.User, now time.Time) error {
	day := today(now)
	if user.FreeCreditsResetOn == day {
		return nil
	}
	allowance := s.DailyAllowance()
	reset, err := users.ResetFreeCredits(ctx, user.ID, allowance, day)
	if err != nil {
		return err
	}
	if reset {
		user.FreeCreditsToday = allowance
		user.FreeCreditsResetOn = day
	}
	return nil
}

func (s *CreditService) loadUser(ctx context.Context, users *repository.UserRepository, userID int64) (*models.User, error) {
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	return user, nil
}

func balanceOf(user *models.User, now time.Time) *models.CreditBalance {
	return &models.CreditBalance{
		Free:                  user.FreeCreditsToday,
		Premium:               user.PremiumCredits,
		SubscriptionStatus:    user.SubscriptionStatus,
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
		Unlimited:             user.SubscriptionActiveAt(now),
		ReferralCode:          user.ReferralCode,
	}
}

func (s *CreditService) GetUserCredits(ctx context.Context, userID int64) (*models.CreditBalance, error) {
	now := s.now()
	var balance *models.CreditBalance
	err := repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		user, err := s.loadUser(ctx, users, userID)
		if err != nil {
			return err
		}
		if err := s.refreshDaily(ctx, users, user, now); err != nil {
			return err
		}
		balance = balanceOf(user, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get user credits: %w", err)
	}
	return balance, nil
}

// UseCredit spends one credit of the given kind outright, without a reservation.
func (s *CreditService) UseCredit(ctx context.Context, userID int64, kind models.CreditSource) error {
	now := s.now()
	return repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		user, err := s.loadUser(ctx, users, userID)
		if err != nil {
			return err
		}
		if err := s.refreshDaily(ctx, users, user, now); err != nil {
			return err
		}

		var ok bool
		switch kind {
		case models.CreditFree:
			ok, err = users.ConsumeFreeCredits(ctx, userID, 1)
		case models.CreditPremium:
			ok, err = users.ConsumePremiumCredits(ctx, userID, 1)
		case models.CreditSubscription:
			ok = user.SubscriptionActiveAt(now)
		default:
			return fmt.Errorf("unknown credit kind %q", kind)
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientCredits
		}
		return nil
	})
}

// Reserve takes one credit for a generation on an engine of the given tier.
// Free engines draw on free credits and fall back to premium credits; premium
// engines use an active subscription first, then premium credits.
func (s *CreditService) Reserve(ctx context.Context, userID int64, tier models.Tier, engine string) (*models.CreditReservation, error) {
	now := s.now()
	var reservation *models.CreditReservation
	err := repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		credits := s.credits.WithTx(tx)

		user, err := s.loadUser(ctx, users, userID)
		if err != nil {
			return err
		}
		if err := s.refreshDaily(ctx, users, user, now); err != nil {
			return err
		}

		source, err := s.draw(ctx, users, user, tier, now)
		if err != nil {
			return err
		}

		reservation = &models.CreditReservation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Source:    source,
			Amount:    1,
			Engine:    engine,
			Status:    models.ReservationReserved,
			CreatedAt: now.UTC(),
		}
		if err := credits.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		if bucket, ok := ledgerBucket(source); ok {
			return credits.AddLedger(ctx, &models.LedgerEntry{
				UserID: userID, Bucket: bucket, Delta: -1, Reason: "reserve", Reference: reservation.ID, CreatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve credit: %w", err)
	}
	metrics.Credits.WithLabelValues("reserved", string(reservation.Source)).Inc()
	return reservation, nil
}

func (s *CreditService) draw(ctx context.Context, users *repository.UserRepository, user *models.User, tier models.Tier, now time.Time) (models.CreditSource, error) {
	if tier == models.TierPremium {
		if user.SubscriptionActiveAt(now) {
			return models.CreditSubscription, nil
		}
	} else {
		ok, err := users.ConsumeFreeCredits(ctx, user.ID, 1)
		if err != nil {
			return "", err
		}
		if ok {
			return models.CreditFree, nil
		}
	}
	ok, err := users.ConsumePremiumCredits(ctx, user.ID, 1)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInsufficientCredits
	}
	return models.CreditPremium, nil
}

func ledgerBucket(source models.CreditSource) (string, bool) {
	switch source {
	case models.CreditFree:
		return bucketFree, true
	case models.CreditPremium:
		return bucketPremium, true
	default:
		return "", false
	}
}

// Commit finalises a reservation. Committing twice is a no-op.
func (s *CreditService) Commit(ctx context.Context, reservationID, generationID string) error {
	ok, err := s.credits.Resolve(ctx, reservationID, models.ReservationCommitted, generationID, "", s.now())
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if ok {
		res, err := s.credits.FindReservation(ctx, reservationID)
		if err == nil && res != nil {
			metrics.Credits.WithLabelValues("committed", string(res.Source)).Inc()
		}
	}
	return nil
}

// Refund returns the reserved credit. It reports false when the reservation
// was already resolved, so a credit is never returned twice.
func (s *CreditService) Refund(ctx context.Context, reservationID, reason string) (bool, error) {
	now := s.now()
	var refunded bool
	var source models.CreditSource
	err := repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		credits := s.credits.WithTx(tx)

		res, err := credits.FindReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("reservation %s not found", reservationID)
		}
		ok, err := credits.Resolve(ctx, reservationID, models.ReservationRefunded, "", reason, now)
		if err != nil || !ok {
			return err
		}
		source = res.Source
		refunded = true

		switch res.Source {
		case models.CreditFree:
			// A reset after the reservation already restored the full allowance.
			user, ferr := users.FindByID(ctx, res.UserID)
			if ferr != nil {
				return ferr
			}
			if user != nil && user.FreeCreditsResetOn > today(res.CreatedAt) {
				s.log.Info("free credit expired with its day, not refunded", "reservation_id", res.ID, "user_id", res.UserID)
				return nil
			}
			err = users.AddFreeCredits(ctx, res.UserID, res.Amount)
		case models.CreditPremium:
			err = users.AddPremiumCredits(ctx, res.UserID, res.Amount)
		}
		if err != nil {
			return err
		}
		if bucket, ok := ledgerBucket(res.Source); ok {
			if err := credits.AddLedger(ctx, &models.LedgerEntry{
				UserID: res.UserID, Bucket: bucket, Delta: res.Amount, Reason: "refund: " + reason, Reference: res.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refund reservation: %w", err)
	}
	if refunded {
		metrics.Credits.WithLabelValues("refunded", string(source)).Inc()
		s.log.Info("credit refunded", "reservation_id", reservationID, "reason", reason)
	}
	return refunded, nil
}

// ReapStale refunds reservations left unresolved for longer than the reservation TTL.
func (s *CreditService) ReapStale(ctx context.Context) (int, error) {
	ttl := s.cfg.ReservationTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	stale, err := s.credits.ListStale(ctx, s.now().Add(-ttl), 100)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, res := range stale {
		ok, err := s.Refund(ctx, res.ID, "expired")
		if err != nil {
			s.log.Error("failed to reap reservation", "reservation_id", res.ID, "err", err)
			continue
		}
		if ok {
			reaped++
		}
	}
	if reaped > 0 {
		s.log.Warn("stale reservations refunded", "count", reaped)
	}
	return reaped, nil
}

func (s *CreditService) AddPremiumCredits(ctx context.Context, userID int64, amount int, reason, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	return repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		if err := s.users.WithTx(tx).AddPremiumCredits(ctx, userID, amount); err != nil {
			return err
		}
		return s.credits.WithTx(tx).AddLedger(ctx, &models.LedgerEntry{
			UserID: userID, Bucket: bucketPremium, Delta: amount, Reason: reason, Reference: reference, CreatedAt: s.now(),
		})
	})
}

type ReferralResult struct {
	ReferrerID     int64 `json:"referrer_id"`
	PremiumCredits int   `json:"premium_credits_awarded"`
	FreeCredits    int   `json:"free_credits_awarded"`
}

// ApplyReferral links userID to the owner of code and pays both bonuses, once per user.
func (s *CreditService) ApplyReferral(ctx context.Context, userID int64, code string) (*ReferralResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidReferral
	}
	now := s.now()
	var result *ReferralResult
	err := repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		credits := s.credits.WithTx(tx)

		user, err := s.loadUser(ctx, users, userID)
		if err != nil {
			return err
		}
		if user.ReferredBy != nil {
			return ErrAlreadyReferred
		}
		referrer, err := users.FindByReferralCode(ctx, code)
		if err != nil {
			return err
		}
		if referrer == nil {
			return ErrInvalidReferral
		}
		if referrer.ID == user.ID {
			return ErrSelfReferral
		}
		ok, err := users.SetReferredBy(ctx, user.ID, referrer.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyReferred
		}
		// The free bonus is added to today's counter, so the reset has to happen first.
		if err := s.refreshDaily(ctx, users, user, now); err != nil {
			return err
		}

		grants := []struct {
			userID int64
			bucket string
			amount int
			reason string
		}{
			{referrer.ID, bucketPremium, s.cfg.ReferrerBonus, "referral bonus"},
			{user.ID, bucketPremium, s.cfg.ReferredPremiumBonus, "referral welcome"},
			{user.ID, bucketFree, s.cfg.ReferredFreeBonus, "referral welcome"},
		}
		for _, g := range grants {
			if g.amount <= 0 {
				continue
			}
			if g.bucket == bucketFree {
				err = users.AddFreeCredits(ctx, g.userID, g.amount)
			} else {
				err = users.AddPremiumCredits(ctx, g.userID, g.amount)
			}
			if err != nil {
				return err
			}
			if err := credits.AddLedger(ctx, &models.LedgerEntry{
				UserID: g.userID, Bucket: g.bucket, Delta: g.amount, Reason: g.reason, Reference: code, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		result = &ReferralResult{
			ReferrerID:     referrer.ID,
			PremiumCredits: s.cfg.ReferredPremiumBonus,
			FreeCredits:    s.cfg.ReferredFreeBonus,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("referral applied", "user_id", userID, "referrer_id", result.ReferrerID)
	return result, nil
}

func (s *CreditService) History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.credits.ListLedger(ctx, userID, limit)
}
