package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge/internal/auth"
	"github.com/cvforge/cvforge/internal/models"
)

func TestSignupFirstUserBecomesOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.users.Signup(ctx, "Founder@Example.com", "password1", "The Founder", "")
	require.NoError(t, err)
	require.Equal(t, "founder@example.com", first.Email)
	require.Equal(t, models.RoleOwner, first.Role)

	second, err := env.users.Signup(ctx, "second@example.com", "password1", "", "")
	require.NoError(t, err)
	require.Equal(t, models.RoleUser, second.Role)
}

func TestSignupGrantsStarterCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "starter@example.com", "password1", "", "")
	require.NoError(t, err)

	balance, err := env.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, models.Balance{CV: 5, AI: 5}, balance)
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Signup(ctx, "dup@example.com", "password1", "", "")
	require.NoError(t, err)

	_, err = env.users.Signup(ctx, "DUP@example.com", "password2", "", "")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignupWithReferralCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	referrer, err := env.users.Signup(ctx, "referrer@example.com", "password1", "", "")
	require.NoError(t, err)
	code, err := env.users.EnsureReferralCode(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, code, 10)

	referee, err := env.users.Signup(ctx, "referee@example.com", "password1", "", code)
	require.NoError(t, err)
	require.Equal(t, code, referee.ReferredBy)

	// Starter plus the referral bonus.
	balance, err := env.ledger.Balance(ctx, referrer.ID)
	require.NoError(t, err)
	require.Equal(t, models.Balance{CV: 10, AI: 10}, balance)

	fresh, err := env.users.FindByID(ctx, referrer.ID)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.ReferralsCount)

	// The referee only gets the starter credits.
	balance, err = env.ledger.Balance(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, models.Balance{CV: 5, AI: 5}, balance)
}

func TestSignupWithUnknownReferralCode(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.users.Signup(context.Background(), "lonely@example.com", "password1", "", "NOSUCHCODE")
	require.NoError(t, err)
	require.Empty(t, user.ReferredBy)
}

func TestEnsureReferralCodeIsStable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "codes@example.com", "password1", "", "")
	require.NoError(t, err)

	first, err := env.users.EnsureReferralCode(ctx, user.ID)
	require.NoError(t, err)
	second, err := env.users.EnsureReferralCode(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.users.Signup(ctx, "login@example.com", "password1", "", "")
	require.NoError(t, err)

	user, token, err := env.users.Login(ctx, "login@example.com", "password1")
	require.NoError(t, err)
	require.Equal(t, created.ID, user.ID)

	claims, err := auth.ValidateToken(env.cfg.JWTSecret, token)
	require.NoError(t, err)
	require.Equal(t, created.ID, claims.UserID)

	_, _, err = env.users.Login(ctx, "login@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = env.users.Login(ctx, "nobody@example.com", "password1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginBannedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.users.Signup(ctx, "banned@example.com", "password1", "", "")
	require.NoError(t, err)
	require.NoError(t, env.users.SetBanned(ctx, user.ID, true))

	_, _, err = env.users.Login(ctx, "banned@example.com", "password1")
	require.ErrorIs(t, err, ErrUserBanned)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Signup(ctx, "reset@example.com", "oldpassword", "", "")
	require.NoError(t, err)

	token, err := env.users.CreateResetToken(ctx, "reset@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := env.users.ResetPassword(ctx, token, "newpassword")
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = env.users.Login(ctx, "reset@example.com", "oldpassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = env.users.Login(ctx, "reset@example.com", "newpassword")
	require.NoError(t, err)

	// A consumed token cannot be replayed.
	ok, err = env.users.ResetPassword(ctx, token, "anotherpassword")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPasswordResetUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.users.ResetPassword(context.Background(), "bogus", "newpassword")
	require.NoError(t, err)
	require.False(t, ok)
}
