package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cvforge/cvforge/internal/models"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Only the owner may promote to owner or demote another owner.
	target, err := s.users.FindByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if target == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	actor := currentUser(r)
	if (models.Role(req.Role) == models.RoleOwner || target.Role == models.RoleOwner) && actor.Role != models.RoleOwner {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := s.users.SetRole(r.Context(), id, models.Role(req.Role)); err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminSetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.users.SetPlan(r.Context(), id, models.PlanCode(req.Plan)); err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminSetBanned(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Banned bool `json:"banned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if id == currentUser(r).ID {
		http.Error(w, "cannot ban yourself", http.StatusBadRequest)
		return
	}

	if err := s.users.SetBanned(r.Context(), id, req.Banned); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type grantRequest struct {
	CV        int    `json:"cv"`
	AI        int    `json:"ai"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CV < 0 || req.AI < 0 || (req.CV == 0 && req.AI == 0) {
		http.Error(w, "amounts must be non-negative and not both zero", http.StatusBadRequest)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
			return
		}
		expiresAt = &t
	}

	target, err := s.users.FindByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if target == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	source, _, err := s.ledger.GrantManual(r.Context(), id, req.CV, req.AI, expiresAt)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("manual grant issued",
		"admin_id", currentUser(r).ID, "user_id", id, "source", source, "cv", req.CV, "ai", req.AI)
	s.writeJSON(w, http.StatusCreated, map[string]string{"source": source})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if id == currentUser(r).ID {
		http.Error(w, "cannot delete yourself", http.StatusBadRequest)
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type planUpdateRequest struct {
	Title           *string `json:"title"`
	StripePriceID   *string `json:"stripe_price_id"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	CVCredits       *int    `json:"cv_credits"`
	AICredits       *int    `json:"ai_credits"`
	IsActive        *bool   `json:"is_active"`
}

func (s *Server) handleAdminUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req planUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	existing, err := s.plans.GetByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if existing == nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}

	if req.Title != nil && *req.Title != "" {
		existing.Title = *req.Title
	}
	if req.StripePriceID != nil {
		existing.StripePriceID = *req.StripePriceID
	}
	if req.Currency != nil && *req.Currency != "" {
		existing.Currency = *req.Currency
	}
	if req.PriceMinorUnits != nil && *req.PriceMinorUnits >= 0 {
		existing.PriceMinorUnits = *req.PriceMinorUnits
	}
	if req.CVCredits != nil && *req.CVCredits >= 0 {
		existing.CVCredits = *req.CVCredits
	}
	if req.AICredits != nil && *req.AICredits >= 0 {
		existing.AICredits = *req.AICredits
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	plan, err := s.plans.Update(r.Context(), existing)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}
