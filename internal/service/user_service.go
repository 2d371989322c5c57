package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cvforge/cvforge/internal/auth"
	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/repository"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserBanned         = errors.New("account is banned")
	ErrUserNotFound       = errors.New("user not found")
)

const referralCodeLength = 10

type UserService struct {
	cfg       config.Config
	users     *repository.UserRepository
	ledger    *LedgerService
	referrals *ReferralService
}

func NewUserService(cfg config.Config, users *repository.UserRepository, ledger *LedgerService, referrals *ReferralService) *UserService {
	return &UserService{cfg: cfg, users: users, ledger: ledger, referrals: referrals}
}

// Signup registers a new account, pays out the starter credits and, when
// a referral code was supplied, triggers the referrer's bonus. The very
// first account in the database becomes the owner.
func (s *UserService) Signup(ctx context.Context, email, password, fullName, referralCode string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidCredentials
	}
	if len(password) < 6 {
		return nil, ErrInvalidCredentials
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	role := models.RoleUser
	if total == 0 {
		role = models.RoleOwner
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		Plan:         string(models.PlanFree),
	}
	user, err = s.users.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if _, err := s.ledger.GrantStarter(ctx, user.ID, s.cfg.StarterCV, s.cfg.StarterAI); err != nil {
		return nil, fmt.Errorf("grant starter credits: %w", err)
	}

	if code := strings.TrimSpace(referralCode); code != "" {
		if _, err := s.referrals.Apply(ctx, email, code); err != nil {
			return nil, fmt.Errorf("apply referral: %w", err)
		}
	}

	return s.users.FindByID(ctx, user.ID)
}

// Login verifies credentials and mints a session token.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if user.IsBanned {
		return nil, "", ErrUserBanned
	}

	token, err := auth.GenerateToken(s.cfg.JWTSecret, user, s.cfg.SessionTTL)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// EnsureReferralCode returns the user's share code, assigning one on
// first use. Codes are uppercase and unique across users.
func (s *UserService) EnsureReferralCode(ctx context.Context, userID int64) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	if user.ReferralCode != "" {
		return user.ReferralCode, nil
	}

	for {
		code := newReferralCode()
		taken, err := s.users.FindByReferralCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
		if taken != nil {
			continue
		}
		if err := s.users.SetReferralCode(ctx, userID, code); err != nil {
			return "", fmt.Errorf("set referral code: %w", err)
		}
		return code, nil
	}
}

func newReferralCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[:referralCodeLength]
}

// CreateResetToken issues a password reset token for the account behind
// email. Callers decide whether to reveal the token or hand it to a
// mailer.
func (s *UserService) CreateResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := s.users.SetResetToken(ctx, user.ID, token, time.Now()); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token. Expired or unknown tokens
// return false without touching the account.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(newPassword) < 6 {
		return false, nil
	}

	user, err := s.users.FindByResetToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("find by reset token: %w", err)
	}
	if user == nil || user.ResetTokenCreatedAt == nil {
		return false, nil
	}
	if time.Since(*user.ResetTokenCreatedAt) > s.cfg.ResetTokenTTL {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}
	return true, nil
}

func (s *UserService) SetRole(ctx context.Context, userID int64, role models.Role) error {
	switch role {
	case models.RoleUser, models.RoleHelper, models.RoleAdmin, models.RoleOwner:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return s.users.SetRole(ctx, userID, role)
}

func (s *UserService) SetPlan(ctx context.Context, userID int64, plan models.PlanCode) error {
	switch plan {
	case models.PlanFree, models.PlanMonthly, models.PlanPro:
	default:
		return fmt.Errorf("unknown plan %q", plan)
	}
	return s.users.SetPlan(ctx, userID, string(plan))
}

func (s *UserService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return s.users.SetBanned(ctx, userID, banned)
}

func (s *UserService) Delete(ctx context.Context, userID int64) error {
	return s.users.Delete(ctx, userID)
}
