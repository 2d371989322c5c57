package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/repository"
)

// LedgerService fronts the credit ledger. Insufficient balance and
// duplicate idempotency keys are ordinary false results, never errors;
// only the database itself can fail.
type LedgerService struct {
	ledger *repository.LedgerRepository
}

func NewLedgerService(ledger *repository.LedgerRepository) *LedgerService {
	return &LedgerService{ledger: ledger}
}

func (s *LedgerService) Balance(ctx context.Context, userID int64) (models.Balance, error) {
	return s.ledger.Balance(ctx, userID)
}

// TrySpend records a consumption if and only if the user's derived
// balance covers both amounts. Returns false for a missing user, a
// short balance, or invalid arguments.
func (s *LedgerService) TrySpend(ctx context.Context, userID int64, source string, cvAmount, aiAmount int) (bool, error) {
	source = strings.TrimSpace(source)
	if source == "" || cvAmount < 0 || aiAmount < 0 {
		return false, nil
	}
	return s.ledger.TrySpend(ctx, userID, source, cvAmount, aiAmount)
}

// Grant issues credits under a caller-chosen unique source. A false
// return means the source was already paid out and this call was a
// correctly ignored retry.
func (s *LedgerService) Grant(ctx context.Context, userID int64, source string, cvAmount, aiAmount int, expiresAt *time.Time) (bool, error) {
	source = strings.TrimSpace(source)
	if source == "" || cvAmount < 0 || aiAmount < 0 {
		return false, nil
	}
	return s.ledger.InsertGrant(ctx, userID, source, cvAmount, aiAmount, expiresAt)
}

// GrantStarter issues the one-time signup bonus for a user.
func (s *LedgerService) GrantStarter(ctx context.Context, userID int64, cvAmount, aiAmount int) (bool, error) {
	return s.Grant(ctx, userID, fmt.Sprintf("starter_grant:%d", userID), cvAmount, aiAmount, nil)
}

// GrantManual issues an admin grant under a fresh unique source and
// returns that source so the action can be audited.
func (s *LedgerService) GrantManual(ctx context.Context, userID int64, cvAmount, aiAmount int, expiresAt *time.Time) (string, bool, error) {
	source := "manual:" + uuid.NewString()
	inserted, err := s.Grant(ctx, userID, source, cvAmount, aiAmount, expiresAt)
	if err != nil {
		return "", false, err
	}
	return source, inserted, nil
}

func (s *LedgerService) History(ctx context.Context, userID int64) ([]models.CreditGrant, []models.CreditSpend, error) {
	grants, err := s.ledger.ListGrants(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	spends, err := s.ledger.ListSpends(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return grants, spends, nil
}
