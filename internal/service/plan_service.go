package service

import (
	"context"
	"fmt"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/models"
	"github.com/cvforge/cvforge/internal/repository"
)

type PlanService struct {
	cfg   config.Config
	plans *repository.PlanRepository
}

func NewPlanService(cfg config.Config, plans *repository.PlanRepository) *PlanService {
	return &PlanService{cfg: cfg, plans: plans}
}

// EnsureDefaults seeds the two paid tiers on first boot. Existing rows
// are left alone so admin edits survive restarts.
func (s *PlanService) EnsureDefaults(ctx context.Context) error {
	defaults := []models.Plan{
		{
			Code:            models.PlanMonthly,
			Title:           "Monthly",
			StripePriceID:   s.cfg.StripePriceMonthly,
			Currency:        s.cfg.Currency,
			PriceMinorUnits: s.cfg.MonthlyPriceMinorUnits,
			CVCredits:       s.cfg.MonthlyCVCredits,
			AICredits:       s.cfg.MonthlyAICredits,
			IsActive:        true,
		},
		{
			Code:            models.PlanPro,
			Title:           "Pro",
			StripePriceID:   s.cfg.StripePricePro,
			Currency:        s.cfg.Currency,
			PriceMinorUnits: s.cfg.ProPriceMinorUnits,
			CVCredits:       s.cfg.ProCVCredits,
			AICredits:       s.cfg.ProAICredits,
			IsActive:        true,
		},
	}

	for i := range defaults {
		existing, err := s.plans.GetByCode(ctx, defaults[i].Code)
		if err != nil {
			return fmt.Errorf("look up plan %s: %w", defaults[i].Code, err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.plans.Create(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seed plan %s: %w", defaults[i].Code, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.plans.List(ctx)
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	return s.plans.GetByID(ctx, id)
}

func (s *PlanService) GetByCode(ctx context.Context, code models.PlanCode) (*models.Plan, error) {
	return s.plans.GetByCode(ctx, code)
}

func (s *PlanService) GetByPriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	return s.plans.GetByPriceID(ctx, priceID)
}

func (s *PlanService) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	return s.plans.Update(ctx, plan)
}
