package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/database/dbtest"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
	"github.com/digkill/picly/internal/service"
	"github.com/digkill/picly/pkg/logger"
)

const webhookSecret = "whsec_test"

type fakeCheckout struct {
	params []*stripe.CheckoutSessionParams
}

func (f *fakeCheckout) NewSession(_ context.Context, p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = append(f.params, p)
	id := fmt.Sprintf("cs_test_%d", len(f.params))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

type env struct {
	svc      *Service
	checkout *fakeCheckout
	users    *repository.UserRepository
	payments *repository.PaymentRepository
	costs    *repository.CostRepository
	user     *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t)
	log := logger.Discard()
	cfg := config.Config{
		StripeSecretKey:          "sk_test",
		StripeWebhookSecret:      webhookSecret,
		StripeCreditsPriceID:     "price_credits",
		StripeSubscriptionPrice:  "price_sub",
		StripeCreditsPerPackage:  100,
		StripeCreditsAmountCents: 500,
		StripeSubscriptionCents:  900,
		StripeSuccessURL:         "https://picly.test/billing/success",
		StripeCancelURL:          "https://picly.test/billing/cancel",
		SubscriptionPeriod:       30 * 24 * time.Hour,
		SessionTTL:               time.Hour,
	}
	users := repository.NewUserRepository(db)
	costs := repository.NewCostRepository(db)
	emergency := service.NewEmergencyMode(log, filepath.Join(t.TempDir(), "emergency_mode.flag"))
	auth := service.NewAuthService(log, users, repository.NewSessionRepository(db), cfg.SessionTTL)

	u, err := auth.Register(context.Background(), "buyer", "buyer@example.com", "secret123")
	require.NoError(t, err)

	e := &env{
		checkout: &fakeCheckout{},
		users:    users,
		payments: repository.NewPaymentRepository(db),
		costs:    costs,
		user:     u,
	}
	e.svc = New(cfg, log, users, e.payments, repository.NewCreditRepository(db), service.NewCostService(cfg, log, costs, emergency))
	e.svc.checkout = e.checkout
	return e
}

func sign(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, typ, object))
}

func (e *env) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	return e.svc.HandleWebhook(context.Background(), payload, sign(payload))
}

func TestCreateCheckoutCredits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.CreateCheckout(ctx, e.user.ID, models.PaymentCredits)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", res.SessionID)

	p := e.checkout.params[0]
	assert.Equal(t, fmt.Sprint(e.user.ID), *p.ClientReferenceID)
	assert.Equal(t, "credits", p.Metadata["kind"])
	assert.Equal(t, "100", p.Metadata["credits"])
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *p.Mode)
	assert.Equal(t, "buyer@example.com", *p.CustomerEmail)

	pay, err := e.payments.FindByProviderRef(ctx, "stripe", "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, pay)
	assert.Equal(t, models.PaymentPending, pay.Status)
	assert.Equal(t, 100, pay.Credits)

	_, err = e.svc.CreateCheckout(ctx, e.user.ID, "gift")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestCreditPackWebhookIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.CreateCheckout(ctx, e.user.ID, models.PaymentCredits)
	require.NoError(t, err)

	payload := event("checkout.session.completed",
		fmt.Sprintf(`{"id":"cs_test_1","object":"checkout.session","client_reference_id":"%d","customer":"cus_42","amount_total":500,"metadata":{"kind":"credits","credits":"100"}}`, e.user.ID))
	require.NoError(t, e.deliver(t, payload))
	require.NoError(t, e.deliver(t, payload))

	u, err := e.users.FindByID(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, u.PremiumCredits)
	assert.Equal(t, "cus_42", u.StripeCustomerID)

	pay, err := e.payments.FindByProviderRef(ctx, "stripe", "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, pay.Status)

	revenue, err := e.costs.RevenueBetween(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, revenue, 1e-9)
}

func TestSubscriptionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.CreateCheckout(ctx, e.user.ID, models.PaymentSubscription)
	require.NoError(t, err)
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *e.checkout.params[0].Mode)

	require.NoError(t, e.deliver(t, event("checkout.session.completed",
		fmt.Sprintf(`{"id":"cs_test_1","object":"checkout.session","client_reference_id":"%d","customer":"cus_7","amount_total":900,"metadata":{"kind":"subscription"}}`, e.user.ID))))

	info, err := e.svc.Subscription(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, info.Status)
	assert.True(t, info.Active)
	require.NotNil(t, info.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *info.ExpiresAt, time.Minute)

	require.NoError(t, e.deliver(t, event("invoice.payment_failed", `{"id":"in_1","object":"invoice","customer":"cus_7"}`)))
	info, err = e.svc.Subscription(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExpired, info.Status)

	require.NoError(t, e.deliver(t, event("customer.subscription.deleted", `{"id":"sub_1","object":"subscription","customer":"cus_7"}`)))
	info, err = e.svc.Subscription(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, info.Status)
	assert.False(t, info.Active)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	payload := event("checkout.session.completed", `{"id":"cs_x"}`)
	err := e.svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestUnknownSessionIsRecordedFromMetadata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.deliver(t, event("checkout.session.completed",
		fmt.Sprintf(`{"id":"cs_elsewhere","object":"checkout.session","client_reference_id":"%d","amount_total":500,"metadata":{"kind":"credits","credits":"25"}}`, e.user.ID))))

	u, err := e.users.FindByID(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, u.PremiumCredits)
}

func TestExpireSubscriptions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, e.users.UpdateSubscription(ctx, e.user.ID, models.SubscriptionActive, &past))

	n, err := e.svc.ExpireSubscriptions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	info, err := e.svc.Subscription(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExpired, info.Status)
}

func TestCheckoutDisabledWithoutKey(t *testing.T) {
	e := newEnv(t)
	e.svc.cfg.StripeSecretKey = ""
	_, err := e.svc.CreateCheckout(context.Background(), e.user.ID, models.PaymentCredits)
	assert.ErrorIs(t, err, ErrDisabled)
}
