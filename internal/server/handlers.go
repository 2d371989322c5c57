package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/service"
)

const webhookBodyLimit = 1 << 20

type signupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	ReferralCode string `json:"referral_code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name,omitempty"`
	Plan           string `json:"plan"`
	Role           string `json:"role"`
	IsBanned       bool   `json:"is_banned"`
	ReferralCode   string `json:"referral_code,omitempty"`
	ReferredBy     string `json:"referred_by,omitempty"`
	ReferralsCount int    `json:"referrals_count"`
	CreatedAt      string `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		FullName:       u.FullName,
		Plan:           u.Plan,
		Role:           string(u.Role),
		IsBanned:       u.IsBanned,
		ReferralCode:   u.ReferralCode,
		ReferredBy:     u.ReferredBy,
		ReferralsCount: u.ReferralsCount,
		CreatedAt:      u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	user, err := s.users.Signup(r.Context(), req.Email, req.Password, req.FullName, req.ReferralCode)
	switch {
	case errors.Is(err, service.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, "valid email and password of at least 6 characters required", http.StatusBadRequest)
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	user, token, err := s.users.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case errors.Is(err, service.ErrUserBanned):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toUserResponse(user),
	})
}

func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	token, err := s.users.CreateResetToken(r.Context(), req.Email)
	if errors.Is(err, service.ErrUserNotFound) {
		// Do not reveal whether the account exists.
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	// There is no mailer; the token goes back to the caller directly.
	s.log.Info("password reset token issued", "email", strings.ToLower(strings.TrimSpace(req.Email)))
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "reset_token": token})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ok, err := s.users.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !ok {
		http.Error(w, "invalid or expired token", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toUserResponse(currentUser(r)))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

type ledgerEntry struct {
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	CVAmount  int    `json:"cv_amount"`
	AIAmount  int    `json:"ai_amount"`
	ExpiresAt string `json:"expires_at,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	grants, spends, err := s.ledger.History(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internalError(w, err)
		return
	}

	entries := make([]ledgerEntry, 0, len(grants)+len(spends))
	for _, g := range grants {
		e := ledgerEntry{
			Kind:      "grant",
			Source:    g.Source,
			CVAmount:  g.CVAmount,
			AIAmount:  g.AIAmount,
			CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
		}
		if g.ExpiresAt != nil {
			e.ExpiresAt = g.ExpiresAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, e)
	}
	for _, sp := range spends {
		entries = append(entries, ledgerEntry{
			Kind:      "spend",
			Source:    sp.Source,
			CVAmount:  sp.CVAmount,
			AIAmount:  sp.AIAmount,
			CreatedAt: sp.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.users.EnsureReferralCode(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"referral_code": code})
}

type spendRequest struct {
	Source string `json:"source"`
	CV     int    `json:"cv"`
	AI     int    `json:"ai"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Source) == "" || req.CV < 0 || req.AI < 0 {
		http.Error(w, "source required, amounts must be non-negative", http.StatusBadRequest)
		return
	}

	user := currentUser(r)
	ok, err := s.ledger.TrySpend(r.Context(), user.ID, req.Source, req.CV, req.AI)
	if err != nil {
		s.internalError(w, err)
		return
	}

	balance, err := s.ledger.Balance(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusPaymentRequired
	}
	s.writeJSON(w, status, map[string]any{
		"ok":      ok,
		"balance": balance,
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	type planResponse struct {
		ID              int64  `json:"id"`
		Code            string `json:"code"`
		Title           string `json:"title"`
		Currency        string `json:"currency"`
		PriceMinorUnits int    `json:"price_minor_units"`
		CVCredits       int    `json:"cv_credits"`
		AICredits       int    `json:"ai_credits"`
		IsActive        bool   `json:"is_active"`
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:              p.ID,
			Code:            string(p.Code),
			Title:           p.Title,
			Currency:        p.Currency,
			PriceMinorUnits: p.PriceMinorUnits,
			CVCredits:       p.CVCredits,
			AICredits:       p.AICredits,
			IsActive:        p.IsActive,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	url, err := s.billing.CreateCheckoutSession(r.Context(), currentUser(r), models.PlanCode(req.Plan))
	if errors.Is(err, service.ErrBillingNotConfigured) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	url, err := s.billing.CreatePortalSession(r.Context(), currentUser(r))
	if errors.Is(err, service.ErrBillingNotConfigured) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.Subscription(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if sub == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
		return
	}

	resp := map[string]any{
		"stripe_subscription_id": sub.StripeSubscriptionID,
		"plan":                   sub.Plan,
		"status":                 sub.Status,
		"cancel_at_period_end":   sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd != nil {
		resp["current_period_end"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"subscription": resp})
}

// handleStripeWebhook verifies the event signature and hands the event
// to billing. Processing failures after verification are logged and
// acknowledged so Stripe does not retry an event we already claimed.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StripeWebhookSecret == "" {
		http.Error(w, "webhook secret not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"),
		s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := s.billing.HandleEvent(r.Context(), &event); err != nil {
		s.log.Error("stripe webhook", "event_id", event.ID, "type", event.Type, "err", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
