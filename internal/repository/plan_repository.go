package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cvforge/cvforge/internal/database"
	"github.com/cvforge/cvforge/internal/models"
)

type PlanRepository struct {
	db *database.DB
}

func NewPlanRepository(db *database.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, code, title, COALESCE(stripe_price_id, ''), currency, price_minor_units, cv_credits, ai_credits, is_active, created_at, updated_at`

func scanPlan(row *sql.Row) (*models.Plan, error) {
	var p models.Plan
	var active int
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Code, &p.Title, &p.StripePriceID, &p.Currency, &p.PriceMinorUnits, &p.CVCredits, &p.AICredits, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.IsActive = active != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var p models.Plan
		var active int
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.Code, &p.Title, &p.StripePriceID, &p.Currency, &p.PriceMinorUnits, &p.CVCredits, &p.AICredits, &active, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan plan list: %w", err)
		}
		p.IsActive = active != 0
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE id = ?`
	return scanPlan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PlanRepository) GetByCode(ctx context.Context, code models.PlanCode) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE code = ?`
	return scanPlan(r.db.QueryRowContext(ctx, query, code))
}

func (r *PlanRepository) GetByPriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	if priceID == "" {
		return nil, nil
	}
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE stripe_price_id = ?`
	return scanPlan(r.db.QueryRowContext(ctx, query, priceID))
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
INSERT INTO pricing_plans (code, title, stripe_price_id, currency, price_minor_units, cv_credits, ai_credits, is_active, created_at, updated_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)`
	active := 0
	if plan.IsActive {
		active = 1
	}
	now := time.Now().UTC().Unix()
	res, err := r.db.ExecContext(ctx, query, plan.Code, plan.Title, plan.StripePriceID, plan.Currency, plan.PriceMinorUnits, plan.CVCredits, plan.AICredits, active, now, now)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("plan last insert id: %w", err)
	}
	return scanPlan(r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE id = ?`, id))
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
UPDATE pricing_plans
SET title = ?, stripe_price_id = NULLIF(?, ''), currency = ?, price_minor_units = ?, cv_credits = ?, ai_credits = ?, is_active = ?, updated_at = ?
WHERE id = ?`
	active := 0
	if plan.IsActive {
		active = 1
	}
	if _, err := r.db.ExecContext(ctx, query, plan.Title, plan.StripePriceID, plan.Currency, plan.PriceMinorUnits, plan.CVCredits, plan.AICredits, active, time.Now().UTC().Unix(), plan.ID); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return scanPlan(r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE id = ?`, plan.ID))
}
