package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cvforge/cvforge/internal/auth"
	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/service"
)

type Server struct {
	cfg     config.Config
	log     *slog.Logger
	users   *service.UserService
	ledger  *service.LedgerService
	billing *service.BillingService
	plans   *service.PlanService
	router  *chi.Mux
}

func NewServer(
	cfg config.Config,
	log *slog.Logger,
	users *service.UserService,
	ledger *service.LedgerService,
	billing *service.BillingService,
	plans *service.PlanService,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		log:     log,
		users:   users,
		ledger:  ledger,
		billing: billing,
		plans:   plans,
		router:  r,
	}

	r.Post("/stripe/webhook", s.handleStripeWebhook)
	r.Get("/plans", s.handleListPlans)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/password-reset/request", s.handlePasswordResetRequest)
		r.Post("/password-reset/confirm", s.handlePasswordResetConfirm)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.authMiddleware)
		protected.Get("/me", s.handleMe)
		protected.Get("/me/balance", s.handleBalance)
		protected.Get("/me/history", s.handleHistory)
		protected.Get("/me/referral-code", s.handleReferralCode)
		protected.Post("/me/spend", s.handleSpend)

		protected.Post("/billing/checkout", s.handleCheckout)
		protected.Post("/billing/portal", s.handlePortal)
		protected.Get("/billing/subscription", s.handleSubscription)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(s.authMiddleware, s.adminMiddleware)
		admin.Get("/admin/users", s.handleAdminListUsers)
		admin.Route("/admin/users/{id}", func(r chi.Router) {
			r.Post("/role", s.handleAdminSetRole)
			r.Post("/ban", s.handleAdminSetBanned)
			r.Post("/plan", s.handleAdminSetPlan)
			r.Post("/grant", s.handleAdminGrant)
			r.Delete("/", s.handleAdminDeleteUser)
		})
		admin.Put("/admin/plans/{id}", s.handleAdminUpdatePlan)
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type contextKey string

const userContextKey contextKey = "user"

// authMiddleware validates the bearer token and loads a fresh user row,
// so bans and role changes take effect on the next request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(s.cfg.JWTSecret, strings.TrimSpace(token))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := s.users.FindByID(r.Context(), claims.UserID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		if user == nil || user.IsBanned {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil || !user.Role.CanAdminister() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
