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

// SubscriptionRepository maintains the display mirror of Stripe
// subscription state. Last write wins; authorization never reads it.
type SubscriptionRepository struct {
	db *database.DB
}

func NewSubscriptionRepository(db *database.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const upsertMySQL = `
INSERT INTO subscriptions
  (user_id, stripe_customer_id, stripe_subscription_id, plan, status, current_period_end, cancel_at_period_end, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  user_id = VALUES(user_id),
  stripe_customer_id = VALUES(stripe_customer_id),
  plan = VALUES(plan),
  status = VALUES(status),
  current_period_end = VALUES(current_period_end),
  cancel_at_period_end = VALUES(cancel_at_period_end),
  updated_at = VALUES(updated_at)`

const upsertSQLite = `
INSERT INTO subscriptions
  (user_id, stripe_customer_id, stripe_subscription_id, plan, status, current_period_end, cancel_at_period_end, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(stripe_subscription_id) DO UPDATE SET
  user_id = excluded.user_id,
  stripe_customer_id = excluded.stripe_customer_id,
  plan = excluded.plan,
  status = excluded.status,
  current_period_end = excluded.current_period_end,
  cancel_at_period_end = excluded.cancel_at_period_end,
  updated_at = excluded.updated_at`

// Upsert stores the latest webhook-reported state, keyed on the Stripe
// subscription id.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	query := upsertMySQL
	if r.db.Dialect == database.DialectSQLite {
		query = upsertSQLite
	}
	cancel := 0
	if sub.CancelAtPeriodEnd {
		cancel = 1
	}
	now := time.Now().UTC().Unix()
	_, err := r.db.ExecContext(ctx, query,
		sub.UserID, sub.StripeCustomerID, sub.StripeSubscriptionID, sub.Plan, sub.Status,
		unixOrNil(sub.CurrentPeriodEnd), cancel, now, now)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// FindByUserID returns the most recently updated subscription for a
// user, or nil when none exists.
func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	const query = `
SELECT id, user_id, stripe_customer_id, stripe_subscription_id, plan, status, current_period_end, cancel_at_period_end, created_at, updated_at
FROM subscriptions WHERE user_id = ?
ORDER BY updated_at DESC, id DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, userID)

	var sub models.Subscription
	var periodEnd sql.NullInt64
	var cancel int
	var createdAt, updatedAt int64
	err := row.Scan(&sub.ID, &sub.UserID, &sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.Plan, &sub.Status,
		&periodEnd, &cancel, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.CurrentPeriodEnd = timeFromUnix(periodEnd)
	sub.CancelAtPeriodEnd = cancel != 0
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}
