package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/repository"
)

var ErrBillingNotConfigured = errors.New("billing is not configured")

// BillingService owns the Stripe integration: checkout and portal
// session creation plus webhook event processing. The Stripe API calls
// are function fields so tests can run against stubs.
type BillingService struct {
	cfg    config.Config
	log    *slog.Logger
	users  *repository.UserRepository
	ledger *repository.LedgerRepository
	events *repository.EventRepository
	subs   *repository.SubscriptionRepository
	plans  *PlanService

	newCheckoutSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortalSession   func(*stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	newCustomer        func(*stripe.CustomerParams) (*stripe.Customer, error)
	getCustomer        func(string, *stripe.CustomerParams) (*stripe.Customer, error)
}

func NewBillingService(
	cfg config.Config,
	log *slog.Logger,
	users *repository.UserRepository,
	ledger *repository.LedgerRepository,
	events *repository.EventRepository,
	subs *repository.SubscriptionRepository,
	plans *PlanService,
) *BillingService {
	stripe.Key = cfg.StripeSecretKey
	return &BillingService{
		cfg:    cfg,
		log:    log,
		users:  users,
		ledger: ledger,
		events: events,
		subs:   subs,
		plans:  plans,

		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalsession.New,
		newCustomer:        customer.New,
		getCustomer:        customer.Get,
	}
}

// ensureCustomer returns the user's Stripe customer ID, creating the
// customer on first use and persisting the ID.
func (s *BillingService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
	}
	if user.FullName != "" {
		params.Name = stripe.String(user.FullName)
	}
	params.AddMetadata("user_id", fmt.Sprintf("%d", user.ID))

	cust, err := s.newCustomer(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.users.SetStripeCustomerID(ctx, user.ID, cust.ID); err != nil {
		return "", fmt.Errorf("save stripe customer id: %w", err)
	}
	user.StripeCustomerID = cust.ID
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for the given
// plan and returns the hosted payment page URL.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, user *models.User, planCode models.PlanCode) (string, error) {
	if s.cfg.StripeSecretKey == "" {
		return "", ErrBillingNotConfigured
	}

	plan, err := s.plans.GetByCode(ctx, planCode)
	if err != nil {
		return "", fmt.Errorf("look up plan: %w", err)
	}
	if plan == nil || !plan.IsActive || plan.StripePriceID == "" {
		return "", fmt.Errorf("plan %q is not purchasable", planCode)
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(s.cfg.FrontendURL + "/billing/success"),
		CancelURL:           stripe.String(s.cfg.FrontendURL + "/billing/cancel"),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.AddMetadata("user_id", fmt.Sprintf("%d", user.ID))
	params.AddMetadata("plan", string(planCode))

	sess, err := s.newCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession returns a customer portal URL where the user can
// manage or cancel their subscription.
func (s *BillingService) CreatePortalSession(ctx context.Context, user *models.User) (string, error) {
	if s.cfg.StripeSecretKey == "" {
		return "", ErrBillingNotConfigured
	}
	if user.StripeCustomerID == "" {
		return "", errors.New("no stripe customer for user")
	}

	sess, err := s.newPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.FrontendURL + "/billing"),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// invoiceEvent is a minimal representation of a Stripe invoice event.
// Newer API versions carry the price under lines.data[].pricing, older
// ones under lines.data[].price.
type invoiceEvent struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Lines         struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Pricing struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv *invoiceEvent) firstPriceID() string {
	for _, line := range inv.Lines.Data {
		if id := strings.TrimSpace(line.Pricing.PriceDetails.Price); id != "" {
			return id
		}
		if id := strings.TrimSpace(line.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

func (inv *invoiceEvent) periodEnd() *time.Time {
	for _, line := range inv.Lines.Data {
		if line.Period.End > 0 {
			t := time.Unix(line.Period.End, 0).UTC()
			return &t
		}
	}
	return nil
}

// subscriptionEvent is a minimal representation of a Stripe
// subscription event.
type subscriptionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (sub *subscriptionEvent) firstPriceID() string {
	for _, item := range sub.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

func (sub *subscriptionEvent) periodEnd() *time.Time {
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			return &t
		}
	}
	return nil
}

// HandleEvent processes a verified webhook event exactly once. The
// event ID is claimed before any mutation, so redelivered events are
// dropped even when a previous attempt failed midway.
func (s *BillingService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	first, err := s.events.MarkProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !first {
		s.log.Debug("duplicate stripe event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		var inv invoiceEvent
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice event: %w", err)
		}
		return s.handleInvoicePaid(ctx, &inv)

	case "customer.subscription.updated":
		var sub subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription event: %w", err)
		}
		return s.handleSubscriptionChanged(ctx, &sub, false)

	case "customer.subscription.deleted":
		var sub subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription event: %w", err)
		}
		return s.handleSubscriptionChanged(ctx, &sub, true)

	default:
		s.log.Info("stripe event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (s *BillingService) handleInvoicePaid(ctx context.Context, inv *invoiceEvent) error {
	plan, err := s.plans.GetByPriceID(ctx, inv.firstPriceID())
	if err != nil {
		return fmt.Errorf("look up plan by price: %w", err)
	}
	if plan == nil {
		s.log.Warn("invoice for unknown price ignored", "invoice_id", inv.ID, "price_id", inv.firstPriceID())
		return nil
	}

	email, err := s.resolveEmail(inv.CustomerEmail, inv.Customer)
	if err != nil {
		return err
	}
	if email == "" {
		s.log.Warn("invoice without customer email ignored", "invoice_id", inv.ID)
		return nil
	}

	user, err := s.users.GetOrCreateByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if user.StripeCustomerID == "" && inv.Customer != "" {
		if err := s.users.SetStripeCustomerID(ctx, user.ID, inv.Customer); err != nil {
			return fmt.Errorf("save stripe customer id: %w", err)
		}
	}

	periodEnd := inv.periodEnd()
	if inv.Subscription != "" {
		sub := &models.Subscription{
			UserID:               user.ID,
			StripeCustomerID:     inv.Customer,
			StripeSubscriptionID: inv.Subscription,
			Plan:                 string(plan.Code),
			Status:               "active",
			CurrentPeriodEnd:     periodEnd,
		}
		if err := s.subs.Upsert(ctx, sub); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
	}
	if err := s.users.SetPlan(ctx, user.ID, string(plan.Code)); err != nil {
		return fmt.Errorf("set user plan: %w", err)
	}

	// Invoice credits expire at the end of the billing period unless
	// stacking is enabled.
	var expiresAt *time.Time
	if !s.cfg.CreditStacking {
		expiresAt = periodEnd
	}
	granted, err := s.ledger.InsertGrant(ctx, user.ID,
		fmt.Sprintf("stripe_invoice:%s", inv.ID), plan.CVCredits, plan.AICredits, expiresAt)
	if err != nil {
		return fmt.Errorf("grant invoice credits: %w", err)
	}
	if granted {
		s.log.Info("invoice credits granted",
			"invoice_id", inv.ID, "user_id", user.ID, "plan", plan.Code,
			"cv", plan.CVCredits, "ai", plan.AICredits)
	} else {
		s.log.Info("invoice credits already granted", "invoice_id", inv.ID, "user_id", user.ID)
	}
	return nil
}

func (s *BillingService) handleSubscriptionChanged(ctx context.Context, sub *subscriptionEvent, deleted bool) error {
	user, err := s.users.FindByStripeCustomerID(ctx, sub.Customer)
	if err != nil {
		return fmt.Errorf("find user by customer: %w", err)
	}
	if user == nil {
		email, err := s.resolveEmail("", sub.Customer)
		if err != nil {
			return err
		}
		if email != "" {
			user, err = s.users.FindByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("find user by email: %w", err)
			}
		}
	}
	if user == nil {
		s.log.Warn("subscription event for unknown customer ignored",
			"subscription_id", sub.ID, "customer", sub.Customer)
		return nil
	}

	planCode := ""
	if plan, err := s.plans.GetByPriceID(ctx, sub.firstPriceID()); err != nil {
		return fmt.Errorf("look up plan by price: %w", err)
	} else if plan != nil {
		planCode = string(plan.Code)
	}

	status := sub.Status
	if deleted {
		status = "canceled"
	}

	mirror := &models.Subscription{
		UserID:               user.ID,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		Plan:                 planCode,
		Status:               status,
		CurrentPeriodEnd:     sub.periodEnd(),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := s.subs.Upsert(ctx, mirror); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	if deleted {
		if err := s.users.SetPlan(ctx, user.ID, string(models.PlanFree)); err != nil {
			return fmt.Errorf("downgrade user plan: %w", err)
		}
	}
	s.log.Info("subscription mirror updated",
		"subscription_id", sub.ID, "user_id", user.ID, "status", status)
	return nil
}

// resolveEmail prefers the email on the event payload and falls back to
// fetching the customer from Stripe.
func (s *BillingService) resolveEmail(payloadEmail, customerID string) (string, error) {
	if email := strings.ToLower(strings.TrimSpace(payloadEmail)); email != "" {
		return email, nil
	}
	if customerID == "" || s.cfg.StripeSecretKey == "" {
		return "", nil
	}
	cust, err := s.getCustomer(customerID, nil)
	if err != nil {
		return "", fmt.Errorf("fetch stripe customer: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(cust.Email)), nil
}

// Subscription returns the user's mirrored subscription, if any.
func (s *BillingService) Subscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	return s.subs.FindByUserID(ctx, userID)
}
