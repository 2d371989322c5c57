package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cvforge/cvforge/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the session payload carried in the signed token.
type Claims struct {
	UserID int64
	Role   models.Role
}

// GenerateToken signs a session token for the user, valid for ttl.
func GenerateToken(secret string, user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses a session token and returns its claims.
func ValidateToken(secret, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(float64)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	role, _ := mapClaims["role"].(string)

	return Claims{UserID: int64(sub), Role: models.Role(role)}, nil
}
