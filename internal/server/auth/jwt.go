// Package auth signs and verifies the session cookie token.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/uohspeech/collector/internal/common"
)

// Claims carries the collector session id.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

func GenerateToken(sessionID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		SessionID: sessionID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetSessionIDFromToken validates tokenString and returns its session id.
// Expired tokens yield common.ErrTokenExpired; anything else that fails
// verification yields common.ErrInvalidToken.
func GetSessionIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", common.ErrTokenExpired
	}
	if err != nil || !token.Valid || claims.SessionID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.SessionID, nil
}
