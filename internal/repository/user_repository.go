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

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, COALESCE(full_name, ''), plan, role, is_banned,
COALESCE(stripe_customer_id, ''), COALESCE(referral_code, ''), COALESCE(referred_by, ''),
referrals_count, COALESCE(reset_token, ''), reset_token_created_at, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var banned int
	var resetTokenCreatedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Plan, &u.Role, &banned,
		&u.StripeCustomerID, &u.ReferralCode, &u.ReferredBy,
		&u.ReferralsCount, &u.ResetToken, &resetTokenCreatedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsBanned = banned != 0
	u.ResetTokenCreatedAt = timeFromUnix(resetTokenCreatedAt)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER(?)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE UPPER(referral_code) = UPPER(?)`
	return scanUser(r.db.QueryRowContext(ctx, query, code))
}

func (r *UserRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, customerID))
}

func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, token))
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (email, password_hash, full_name, plan, role, is_banned, referred_by, referrals_count, created_at, updated_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, 0, NULLIF(?, ''), 0, ?, ?)`
	now := time.Now().UTC().Unix()
	res, err := r.db.ExecContext(ctx, query, user.Email, user.PasswordHash, user.FullName, user.Plan, user.Role, user.ReferredBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	user.CreatedAt = time.Unix(now, 0).UTC()
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

// GetOrCreateByEmail resolves webhook-reported customers that signed up
// through Stripe before ever registering. The placeholder account has no
// usable password until a reset completes.
func (r *UserRepository) GetOrCreateByEmail(ctx context.Context, email string) (*models.User, error) {
	query := r.db.Dialect.InsertIgnore() + ` users (email, password_hash, plan, role, is_banned, referrals_count, created_at, updated_at)
VALUES (?, '', 'free', 'user', 0, 0, ?, ?)`
	now := time.Now().UTC().Unix()
	if _, err := r.db.ExecContext(ctx, query, email, now, now); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return r.FindByEmail(ctx, email)
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var banned int
		var resetTokenCreatedAt sql.NullInt64
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Plan, &u.Role, &banned,
			&u.StripeCustomerID, &u.ReferralCode, &u.ReferredBy,
			&u.ReferralsCount, &u.ResetToken, &resetTokenCreatedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		u.IsBanned = banned != 0
		u.ResetTokenCreatedAt = timeFromUnix(resetTokenCreatedAt)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) SetRole(ctx context.Context, userID int64, role models.Role) error {
	const query = `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, role, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (r *UserRepository) SetBanned(ctx context.Context, userID int64, banned bool) error {
	value := 0
	if banned {
		value = 1
	}
	const query = `UPDATE users SET is_banned = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPlan(ctx context.Context, userID int64, plan string) error {
	const query = `UPDATE users SET plan = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, plan, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

func (r *UserRepository) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	const query = `UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, customerID, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set stripe customer id: %w", err)
	}
	return nil
}

func (r *UserRepository) SetReferralCode(ctx context.Context, userID int64, code string) error {
	const query = `UPDATE users SET referral_code = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, code, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set referral code: %w", err)
	}
	return nil
}

// SetReferredByIfEmpty stamps referred_by once; later writes lose.
func (r *UserRepository) SetReferredByIfEmpty(ctx context.Context, userID int64, code string) error {
	const query = `UPDATE users SET referred_by = ?, updated_at = ? WHERE id = ? AND (referred_by IS NULL OR referred_by = '')`
	if _, err := r.db.ExecContext(ctx, query, code, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("stamp referred_by: %w", err)
	}
	return nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, userID int64, token string, createdAt time.Time) error {
	const query = `UPDATE users SET reset_token = ?, reset_token_created_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, token, createdAt.UTC().Unix(), time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// UpdatePassword installs a new hash and consumes any reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	const query = `UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_created_at = NULL, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC().Unix(), userID); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, userID int64) error {
	const query = `DELETE FROM users WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
