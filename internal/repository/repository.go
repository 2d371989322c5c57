package repository

import (
	"context"
	"database/sql"
	"time"
)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx so balance reads
// can run on a plain connection or inside a spend transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timeFromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
