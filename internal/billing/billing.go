// Package billing sells credit packs and subscriptions through Stripe Checkout.
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/internal/service"
)

const providerStripe = "stripe"

var (
	ErrDisabled         = errors.New("Billing is not configured")
	ErrInvalidKind      = errors.New("Unknown checkout kind")
	ErrUserNotFound     = errors.New("User not found")
	ErrInvalidSignature = errors.New("Invalid webhook signature")
)

// Checkout creates hosted checkout sessions.
type Checkout interface {
	NewSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCheckout struct{}

func (stripeCheckout) NewSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return checkoutsession.New(params)
}

type Service struct {
	cfg      config.Config
	log      *slog.Logger
	users    *repository.UserRepository
	payments *repository.PaymentRepository
	credits  *repository.CreditRepository
	costs    *service.CostService
	checkout Checkout
	now      func() time.Time
}

func New(cfg config.Config, log *slog.Logger, users *repository.UserRepository, payments *repository.PaymentRepository,
	credits *repository.CreditRepository, costs *service.CostService) *Service {
	stripe.Key = cfg.StripeSecretKey
	return &Service{
		cfg:      cfg,
		log:      log.With(slog.String("component", "billing")),
		users:    users,
		payments: payments,
		credits:  credits,
		costs:    costs,
		checkout: stripeCheckout{},
		now:      time.Now,
	}
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckout opens a Checkout Session for a credit pack or a subscription
// and records a pending payment keyed by the session id.
func (s *Service) CreateCheckout(ctx context.Context, userID int64, kind models.PaymentKind) (*CheckoutResult, error) {
	if !s.cfg.StripeEnabled() {
		return nil, ErrDisabled
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(s.cfg.StripeSuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cfg.StripeCancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
	}
	params.AddMetadata("kind", string(kind))

	var (
		credits int
		amount  int64
	)
	switch kind {
	case models.PaymentCredits:
		credits = s.cfg.StripeCreditsPerPackage
		amount = s.cfg.StripeCreditsAmountCents
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(s.cfg.StripeCreditsPriceID), Quantity: stripe.Int64(1)}}
		params.AddMetadata("credits", strconv.Itoa(credits))
	case models.PaymentSubscription:
		amount = s.cfg.StripeSubscriptionCents
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(s.cfg.StripeSubscriptionPrice), Quantity: stripe.Int64(1)}}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if user.StripeCustomerID != "" {
		params.Customer = stripe.String(user.StripeCustomerID)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}

	sess, err := s.checkout.NewSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.payments.Create(ctx, &models.Payment{
		UserID:      userID,
		Provider:    providerStripe,
		ProviderRef: sess.ID,
		Kind:        kind,
		Credits:     credits,
		AmountCents: amount,
		Currency:    "usd",
		Status:      models.PaymentPending,
		CreatedAt:   s.now(),
	}); err != nil {
		return nil, err
	}
	s.log.Info("checkout created", "user_id", userID, "kind", kind, "session_id", sess.ID)
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// HandleWebhook verifies and applies a Stripe event. Unknown event types are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.StripeWebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("unmarshal checkout session: %w", err)
		}
		return s.completeCheckout(ctx, &sess)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("unmarshal subscription: %w", err)
		}
		return s.setCustomerStatus(ctx, sub.Customer, models.SubscriptionCancelled)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("unmarshal invoice: %w", err)
		}
		return s.setCustomerStatus(ctx, inv.Customer, models.SubscriptionExpired)
	}

	s.log.Debug("webhook ignored", "type", event.Type, "event_id", event.ID)
	return nil
}

func (s *Service) completeCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	payment, err := s.payments.FindByProviderRef(ctx, providerStripe, sess.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		if payment, err = s.paymentFromSession(ctx, sess); err != nil {
			return err
		}
	}
	if payment.Status == models.PaymentPaid {
		s.log.Info("checkout already applied", "session_id", sess.ID)
		return nil
	}

	now := s.now()
	applied := false
	err = repository.InTx(ctx, s.users.DB(), func(tx *sql.Tx) error {
		ok, err := s.payments.WithTx(tx).MarkPaid(ctx, payment.ID, now)
		if err != nil || !ok {
			return err
		}
		users := s.users.WithTx(tx)
		if sess.Customer != nil && sess.Customer.ID != "" {
			if err := users.SetStripeCustomerID(ctx, payment.UserID, sess.Customer.ID); err != nil {
				return err
			}
		}

		switch payment.Kind {
		case models.PaymentCredits:
			if err := users.AddPurchasedCredits(ctx, payment.UserID, payment.Credits); err != nil {
				return err
			}
			if err := s.credits.WithTx(tx).AddLedger(ctx, &models.LedgerEntry{
				UserID: payment.UserID, Bucket: "premium", Delta: payment.Credits, Reason: "purchase", Reference: sess.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
		case models.PaymentSubscription:
			user, err := users.FindByID(ctx, payment.UserID)
			if err != nil {
				return err
			}
			if user == nil {
				return ErrUserNotFound
			}
			start := now
			if user.SubscriptionActiveAt(now) && user.SubscriptionExpiresAt != nil {
				start = *user.SubscriptionExpiresAt
			}
			expires := start.Add(s.cfg.SubscriptionPeriod)
			if err := users.UpdateSubscription(ctx, payment.UserID, models.SubscriptionActive, &expires); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ErrInvalidKind, payment.Kind)
		}
		applied = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply checkout %s: %w", sess.ID, err)
	}
	if !applied {
		return nil
	}

	cents := sess.AmountTotal
	if cents <= 0 {
		cents = payment.AmountCents
	}
	userID := payment.UserID
	desc := fmt.Sprintf("stripe %s %s", payment.Kind, sess.ID)
	if err := s.costs.LogRevenue(ctx, &userID, float64(cents)/100, string(payment.Kind), desc); err != nil {
		s.log.Error("failed to log revenue", "session_id", sess.ID, "err", err)
	}
	s.log.Info("checkout completed", "user_id", userID, "kind", payment.Kind, "session_id", sess.ID)
	return nil
}

// paymentFromSession records a payment for a session this process did not create.
func (s *Service) paymentFromSession(ctx context.Context, sess *stripe.CheckoutSession) (*models.Payment, error) {
	userID, err := strconv.ParseInt(sess.ClientReferenceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout %s: bad client reference %q", sess.ID, sess.ClientReferenceID)
	}
	kind := models.PaymentKind(sess.Metadata["kind"])
	p := &models.Payment{
		UserID:      userID,
		Provider:    providerStripe,
		ProviderRef: sess.ID,
		Kind:        kind,
		AmountCents: sess.AmountTotal,
		Currency:    string(sess.Currency),
		Status:      models.PaymentPending,
		CreatedAt:   s.now(),
	}
	if kind == models.PaymentCredits {
		if p.Credits, err = strconv.Atoi(sess.Metadata["credits"]); err != nil {
			return nil, fmt.Errorf("checkout %s: bad credits metadata", sess.ID)
		}
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) setCustomerStatus(ctx context.Context, customer *stripe.Customer, status models.SubscriptionStatus) error {
	if customer == nil || customer.ID == "" {
		return nil
	}
	user, err := s.users.FindByStripeCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}
	if user == nil {
		s.log.Warn("webhook for unknown customer", "customer", customer.ID)
		return nil
	}
	if err := s.users.SetSubscriptionStatus(ctx, user.ID, status); err != nil {
		return err
	}
	s.log.Info("subscription status changed", "user_id", user.ID, "status", status)
	return nil
}

type SubscriptionInfo struct {
	Status    models.SubscriptionStatus `json:"status"`
	ExpiresAt *time.Time                `json:"expires_at,omitempty"`
	Active    bool                      `json:"active"`
}

func (s *Service) Subscription(ctx context.Context, userID int64) (*SubscriptionInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	status := user.SubscriptionStatus
	if status == "" {
		status = models.SubscriptionNone
	}
	return &SubscriptionInfo{Status: status, ExpiresAt: user.SubscriptionExpiresAt, Active: user.SubscriptionActiveAt(s.now())}, nil
}

// ExpireSubscriptions marks lapsed active subscriptions expired.
func (s *Service) ExpireSubscriptions(ctx context.Context) (int64, error) {
	n, err := s.users.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("subscriptions expired", "count", n)
	}
	return n, nil
}
