package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/jayjaytrn/cash-delivery/models"
)

const SecretKey = "supersecretkey"

type Claims struct {
	jwt.RegisteredClaims
	UUID string
	Role models.Actor
}

func BuildJWT(UUID string, role models.Actor) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UUID: UUID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 24)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	})

	tokenString, err := token.SignedString([]byte(SecretKey))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ValidateJWT(tokenString string) (string, models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(SecretKey), nil
		})
	if err != nil {
		return "", "", fmt.Errorf("token error: %w", err)
	}

	if !token.Valid {
		return "", "", fmt.Errorf("token is not valid")
	}

	return claims.UUID, claims.Role, nil
}
