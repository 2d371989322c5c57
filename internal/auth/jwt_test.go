package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge/internal/models"
)

func TestGenerateAndValidateToken(t *testing.T) {
	user := &models.User{ID: 42, Role: models.RoleAdmin}

	token, err := GenerateToken("secret", user, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, models.RoleAdmin, claims.Role)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", &models.User{ID: 1, Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("other-secret", token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredToken(t *testing.T) {
	token, err := GenerateToken("secret", &models.User{ID: 1, Role: models.RoleUser}, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("secret", token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbageToken(t *testing.T) {
	_, err := ValidateToken("secret", "not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
