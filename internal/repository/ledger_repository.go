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

// LedgerRepository owns the append-only credit_grants / credit_spends
// tables. Balances are always derived from them; no counter is stored.
type LedgerRepository struct {
	db *database.DB
}

func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const balanceQuery = `
SELECT
  COALESCE((SELECT SUM(cv_amount) FROM credit_grants
            WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)), 0)
  -
  COALESCE((SELECT SUM(cv_amount) FROM credit_spends WHERE user_id = ?), 0),
  COALESCE((SELECT SUM(ai_amount) FROM credit_grants
            WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)), 0)
  -
  COALESCE((SELECT SUM(ai_amount) FROM credit_spends WHERE user_id = ?), 0)`

// Balance computes unexpired grants minus spends for each credit kind,
// floored at zero. Unknown users come back with zero balances.
func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (models.Balance, error) {
	return balanceOn(ctx, r.db, userID, time.Now())
}

func balanceOn(ctx context.Context, q rowQuerier, userID int64, now time.Time) (models.Balance, error) {
	nowUnix := now.UTC().Unix()
	row := q.QueryRowContext(ctx, balanceQuery, userID, nowUnix, userID, userID, nowUnix, userID)
	var bal models.Balance
	if err := row.Scan(&bal.CV, &bal.AI); err != nil {
		return models.Balance{}, fmt.Errorf("compute balance: %w", err)
	}
	if bal.CV < 0 {
		bal.CV = 0
	}
	if bal.AI < 0 {
		bal.AI = 0
	}
	return bal, nil
}

// TrySpend atomically checks the balance and records a spend. The user
// row is locked for the whole transaction so concurrent spends serialize
// and can never jointly exceed the granted total. Returns false with no
// side effect on insufficient balance or missing user.
func (r *LedgerRepository) TrySpend(ctx context.Context, userID int64, source string, cvAmount, aiAmount int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin spend tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := r.lockUserRow(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, nil
	}

	bal, err := balanceOn(ctx, tx, userID, time.Now())
	if err != nil {
		return false, err
	}
	if cvAmount > bal.CV || aiAmount > bal.AI {
		return false, nil
	}

	const insert = `
INSERT INTO credit_spends (user_id, source, cv_amount, ai_amount, created_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, source, cvAmount, aiAmount, time.Now().UTC().Unix()); err != nil {
		return false, fmt.Errorf("insert spend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit spend: %w", err)
	}
	return true, nil
}

// lockUserRow takes the per-user write lock inside tx and reports
// whether the user exists. MySQL uses SELECT ... FOR UPDATE; SQLite has
// no row locks, so a self-assignment UPDATE upgrades the transaction to
// a writer, which serializes it against other spenders the same way.
func (r *LedgerRepository) lockUserRow(ctx context.Context, tx *sql.Tx, userID int64) (bool, error) {
	if r.db.Dialect == database.DialectSQLite {
		res, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = updated_at WHERE id = ?`, userID)
		if err != nil {
			return false, fmt.Errorf("lock user row: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("lock rows affected: %w", err)
		}
		return affected > 0, nil
	}

	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ? FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock user row: %w", err)
	}
	return true, nil
}

// InsertGrant records a credit issuance keyed by its unique source.
// Returns true if a new row was inserted, false if the source already
// existed and the insert was ignored.
func (r *LedgerRepository) InsertGrant(ctx context.Context, userID int64, source string, cvAmount, aiAmount int, expiresAt *time.Time) (bool, error) {
	query := r.db.Dialect.InsertIgnore() + ` credit_grants (user_id, source, cv_amount, ai_amount, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, userID, source, cvAmount, aiAmount, unixOrNil(expiresAt), time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("insert grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *LedgerRepository) grantExistsOn(ctx context.Context, q rowQuerier, source string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM credit_grants WHERE source = ?`, source).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check grant source: %w", err)
	}
	return true, nil
}

// ListGrants returns a user's grant history, newest first.
func (r *LedgerRepository) ListGrants(ctx context.Context, userID int64) ([]models.CreditGrant, error) {
	const query = `
SELECT id, user_id, source, cv_amount, ai_amount, expires_at, created_at
FROM credit_grants WHERE user_id = ? ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []models.CreditGrant
	for rows.Next() {
		var g models.CreditGrant
		var expiresAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&g.ID, &g.UserID, &g.Source, &g.CVAmount, &g.AIAmount, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.ExpiresAt = timeFromUnix(expiresAt)
		g.CreatedAt = time.Unix(createdAt, 0).UTC()
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListSpends returns a user's spend history, newest first.
func (r *LedgerRepository) ListSpends(ctx context.Context, userID int64) ([]models.CreditSpend, error) {
	const query = `
SELECT id, user_id, source, cv_amount, ai_amount, created_at
FROM credit_spends WHERE user_id = ? ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list spends: %w", err)
	}
	defer rows.Close()

	var spends []models.CreditSpend
	for rows.Next() {
		var s models.CreditSpend
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.UserID, &s.Source, &s.CVAmount, &s.AIAmount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan spend: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		spends = append(spends, s)
	}
	return spends, rows.Err()
}

// PayReferralBonus issues the referee-keyed bonus grant and bumps the
// referrer's count, all in one transaction with the referrer row locked
// so the cap cannot be raced past by concurrent signups. Returns true
// when the bonus is (or already was) paid, false when the cap blocked it.
func (r *LedgerRepository) PayReferralBonus(ctx context.Context, referrerID, refereeID int64, maxReferrals, cvAmount, aiAmount int) (bool, error) {
	source := fmt.Sprintf("referral_bonus:%d", refereeID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin referral tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := r.lockUserRow(ctx, tx, referrerID)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, nil
	}

	paid, err := r.grantExistsOn(ctx, tx, source)
	if err != nil {
		return false, err
	}
	if paid {
		// Duplicate call: the payout already happened, count stays put.
		return true, tx.Commit()
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT referrals_count FROM users WHERE id = ?`, referrerID).Scan(&count); err != nil {
		return false, fmt.Errorf("read referral count: %w", err)
	}
	if count >= maxReferrals {
		return false, nil
	}

	insert := r.db.Dialect.InsertIgnore() + ` credit_grants (user_id, source, cv_amount, ai_amount, expires_at, created_at)
VALUES (?, ?, ?, ?, NULL, ?)`
	res, err := tx.ExecContext(ctx, insert, referrerID, source, cvAmount, aiAmount, time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("insert referral grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referral grant rows affected: %w", err)
	}
	if affected == 0 {
		return true, tx.Commit()
	}

	const bump = `UPDATE users SET referrals_count = referrals_count + 1, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, bump, time.Now().UTC().Unix(), referrerID); err != nil {
		return false, fmt.Errorf("increment referral count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit referral bonus: %w", err)
	}
	return true, nil
}
