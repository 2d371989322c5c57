package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/repository"
)

// ReferralService pays the signup bonus to the owner of a referral code.
type ReferralService struct {
	cfg    config.Config
	log    *slog.Logger
	users  *repository.UserRepository
	ledger *repository.LedgerRepository
}

func NewReferralService(cfg config.Config, log *slog.Logger, users *repository.UserRepository, ledger *repository.LedgerRepository) *ReferralService {
	return &ReferralService{cfg: cfg, log: log, users: users, ledger: ledger}
}

// Apply credits the referrer behind code for bringing in the user with
// refereeEmail. Returns true when the bonus is on the referrer's ledger
// after the call, including retries of an already-paid referral. False
// means no bonus applies: unknown code or user, self-referral, or the
// referrer already hit the payout cap.
func (s *ReferralService) Apply(ctx context.Context, refereeEmail, code string) (bool, error) {
	refereeEmail = strings.ToLower(strings.TrimSpace(refereeEmail))
	code = strings.ToUpper(strings.TrimSpace(code))
	if refereeEmail == "" || code == "" {
		return false, nil
	}

	referee, err := s.users.FindByEmail(ctx, refereeEmail)
	if err != nil {
		return false, fmt.Errorf("find referee: %w", err)
	}
	if referee == nil {
		return false, nil
	}

	referrer, err := s.users.FindByReferralCode(ctx, code)
	if err != nil {
		return false, fmt.Errorf("find referrer: %w", err)
	}
	if referrer == nil || referrer.ID == referee.ID {
		return false, nil
	}

	// The referee keeps their first attribution even when the payout
	// below is capped or duplicated.
	if err := s.users.SetReferredByIfEmpty(ctx, referee.ID, code); err != nil {
		return false, fmt.Errorf("stamp referred_by: %w", err)
	}

	paid, err := s.ledger.PayReferralBonus(ctx, referrer.ID, referee.ID,
		s.cfg.ReferralCap, s.cfg.ReferralBonusCV, s.cfg.ReferralBonusAI)
	if err != nil {
		return false, fmt.Errorf("pay referral bonus: %w", err)
	}
	if paid {
		s.log.Info("referral bonus paid", "referrer_id", referrer.ID, "referee_id", referee.ID)
	}
	return paid, nil
}
