package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cvforge/cvforge/internal/database"
)

// EventRepository records processed Stripe event ids so webhook retries
// are absorbed. The unique primary key makes insert-ignore the atomic
// check-and-record; there is no separate existence probe to race with.
type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// MarkProcessed returns true the first time an event id is seen. A false
// return means a previous delivery already claimed it and the caller
// must skip all side effects.
func (r *EventRepository) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	query := r.db.Dialect.InsertIgnore() + ` stripe_events (event_id, created_at) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, query, eventID, time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("record stripe event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("event rows affected: %w", err)
	}
	return affected > 0, nil
}
