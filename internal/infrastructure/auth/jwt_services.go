package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/PaymentBoxService/internal/models"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
)

// Claims are the token claims issued by the identity service.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for actor. Used by tooling and tests; production
// tokens come from the identity service with the same secret.
func GenerateToken(secret []byte, actor models.Actor, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("JWT secret not set")
	}
	now := time.Now()
	claims := Claims{
		UserID: actor.ID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseToken(secret []byte, tokenStr string) (models.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return models.Actor{}, fmt.Errorf("%w: invalid token", pkgerrors.ErrUnauthorized)
	}
	if claims.UserID == "" {
		return models.Actor{}, fmt.Errorf("%w: missing user_id claim", pkgerrors.ErrUnauthorized)
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", pkgerrors.ErrUnauthorized, role)
	}
	return models.Actor{ID: claims.UserID, Role: role}, nil
}
