package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/models"
)

func makeEvent(t *testing.T, id, eventType string, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func invoicePayload(invoiceID, email, priceID string, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":             invoiceID,
		"customer":       "cus_123",
		"customer_email": email,
		"subscription":   "sub_123",
		"lines": map[string]any{
			"data": []map[string]any{
				{
					"period": map[string]any{"end": periodEnd.Unix()},
					"pricing": map[string]any{
						"price_details": map[string]any{"price": priceID},
					},
				},
			},
		},
	}
}

func TestHandleEventDeduplicatesByEventID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	event := makeEvent(t, "evt_1", "invoice.paid",
		invoicePayload("in_1", "buyer@example.com", "price_monthly", periodEnd))

	require.NoError(t, env.billing.HandleEvent(ctx, event))
	require.NoError(t, env.billing.HandleEvent(ctx, event))

	user, err := env.users.FindByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)

	balance, err := env.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, models.Balance{CV: 20, AI: 30}, balance)
}

func TestInvoiceGrantedOnceAcrossRedeliveries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	payload := invoicePayload("in_2", "buyer@example.com", "price_monthly", periodEnd)

	// Two distinct event IDs carrying the same invoice, as Stripe sends
	// for invoice.paid and invoice.payment_succeeded.
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_a", "invoice.paid", payload)))
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_b", "invoice.payment_succeeded", payload)))

	user, err := env.users.FindByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	balance, err := env.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, models.Balance{CV: 20, AI: 30}, balance)
}

func TestInvoicePaidCreatesUserAndMirrorsSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_3", "invoice.paid",
			invoicePayload("in_3", "new-customer@example.com", "price_pro", periodEnd))))

	user, err := env.users.FindByEmail(ctx, "new-customer@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, string(models.PlanPro), user.Plan)
	require.Equal(t, "cus_123", user.StripeCustomerID)

	sub, err := env.billing.Subscription(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "sub_123", sub.StripeSubscriptionID)
	require.Equal(t, "active", sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	require.Equal(t, periodEnd.Unix(), sub.CurrentPeriodEnd.Unix())

	// Without stacking, the invoice credits expire with the period.
	grants, _, err := env.ledger.History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "stripe_invoice:in_3", grants[0].Source)
	require.NotNil(t, grants[0].ExpiresAt)
	require.Equal(t, periodEnd.Unix(), grants[0].ExpiresAt.Unix())
}

func TestInvoicePaidWithCreditStacking(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.CreditStacking = true })
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_4", "invoice.paid",
			invoicePayload("in_4", "stacker@example.com", "price_monthly", periodEnd))))

	user, err := env.users.FindByEmail(ctx, "stacker@example.com")
	require.NoError(t, err)
	grants, _, err := env.ledger.History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Nil(t, grants[0].ExpiresAt)
}

func TestInvoiceWithUnknownPriceIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_5", "invoice.paid",
			invoicePayload("in_5", "stranger@example.com", "price_unknown", time.Now()))))

	user, err := env.users.FindByEmail(ctx, "stranger@example.com")
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestInvoiceLegacyPriceShape(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := map[string]any{
		"id":             "in_6",
		"customer":       "cus_456",
		"customer_email": "legacy@example.com",
		"subscription":   "sub_456",
		"lines": map[string]any{
			"data": []map[string]any{
				{
					"period": map[string]any{"end": time.Now().Add(720 * time.Hour).Unix()},
					"price":  map[string]any{"id": "price_monthly"},
				},
			},
		},
	}
	require.NoError(t, env.billing.HandleEvent(ctx, makeEvent(t, "evt_6", "invoice.paid", payload)))

	user, err := env.users.FindByEmail(ctx, "legacy@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, string(models.PlanMonthly), user.Plan)
}

func TestInvoiceWithoutEmailFallsBackToCustomerFetch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.billing.getCustomer = func(id string, _ *stripe.CustomerParams) (*stripe.Customer, error) {
		require.Equal(t, "cus_123", id)
		return &stripe.Customer{ID: id, Email: "fetched@example.com"}, nil
	}

	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_7", "invoice.paid",
			invoicePayload("in_7", "", "price_monthly", time.Now().Add(time.Hour)))))

	user, err := env.users.FindByEmail(ctx, "fetched@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestSubscriptionDeletedDowngradesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_8", "invoice.paid",
			invoicePayload("in_8", "churner@example.com", "price_monthly", periodEnd))))

	payload := map[string]any{
		"id":       "sub_123",
		"customer": "cus_123",
		"status":   "canceled",
	}
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_9", "customer.subscription.deleted", payload)))

	user, err := env.users.FindByEmail(ctx, "churner@example.com")
	require.NoError(t, err)
	require.Equal(t, string(models.PlanFree), user.Plan)

	sub, err := env.billing.Subscription(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "canceled", sub.Status)
}

func TestSubscriptionUpdatedMirrorsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_10", "invoice.paid",
			invoicePayload("in_10", "mirror@example.com", "price_monthly", time.Now().Add(time.Hour)))))

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	payload := map[string]any{
		"id":                   "sub_123",
		"customer":             "cus_123",
		"status":               "active",
		"cancel_at_period_end": true,
		"items": map[string]any{
			"data": []map[string]any{
				{
					"current_period_end": periodEnd.Unix(),
					"price":              map[string]any{"id": "price_pro"},
				},
			},
		},
	}
	require.NoError(t, env.billing.HandleEvent(ctx,
		makeEvent(t, "evt_11", "customer.subscription.updated", payload)))

	user, err := env.users.FindByEmail(ctx, "mirror@example.com")
	require.NoError(t, err)
	sub, err := env.billing.Subscription(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, string(models.PlanPro), sub.Plan)
	require.True(t, sub.CancelAtPeriodEnd)
	require.Equal(t, periodEnd.Unix(), sub.CurrentPeriodEnd.Unix())
}

func TestCreateCheckoutSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "shopper@example.com", "password1", "", "")
	require.NoError(t, err)

	env.billing.newCustomer = func(params *stripe.CustomerParams) (*stripe.Customer, error) {
		require.Equal(t, "shopper@example.com", *params.Email)
		return &stripe.Customer{ID: "cus_new"}, nil
	}
	env.billing.newCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		require.Equal(t, "cus_new", *params.Customer)
		require.Equal(t, "price_monthly", *params.LineItems[0].Price)
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.test/cs_123"}, nil
	}

	url, err := env.billing.CreateCheckoutSession(ctx, user, models.PlanMonthly)
	require.NoError(t, err)
	require.Equal(t, "https://checkout.stripe.test/cs_123", url)

	// The customer ID is persisted for subsequent sessions.
	fresh, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "cus_new", fresh.StripeCustomerID)
}

func TestCreateCheckoutSessionUnknownPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "confused@example.com", "password1", "", "")
	require.NoError(t, err)

	_, err = env.billing.CreateCheckoutSession(ctx, user, models.PlanCode("gold"))
	require.Error(t, err)
}

func TestCreatePortalSessionRequiresCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "portal@example.com", "password1", "", "")
	require.NoError(t, err)

	_, err = env.billing.CreatePortalSession(ctx, user)
	require.Error(t, err)

	require.NoError(t, env.userRepo.SetStripeCustomerID(ctx, user.ID, "cus_portal"))
	user.StripeCustomerID = "cus_portal"
	env.billing.newPortalSession = func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
		require.Equal(t, "cus_portal", *params.Customer)
		return &stripe.BillingPortalSession{URL: "https://portal.stripe.test/ps_123"}, nil
	}

	url, err := env.billing.CreatePortalSession(ctx, user)
	require.NoError(t, err)
	require.Equal(t, "https://portal.stripe.test/ps_123", url)
}
