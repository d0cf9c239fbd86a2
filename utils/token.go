package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// QueueClaims bind a browser to its waiting-room identity. The token
// travels in a cookie so extend/complete calls need no request body.
type QueueClaims struct {
	ClientKey        string `json:"ck"`
	SessionID        string `json:"sid"`
	EventID          string `json:"evt"`
	RegistrationType string `json:"rt"`
	jwt.RegisteredClaims
}

// NewQueueToken signs an HS256 token for one queue session.
func NewQueueToken(secret, clientKey, sessionID, eventID, registrationType string, ttl time.Duration) (string, error) {
	claims := QueueClaims{
		ClientKey:        clientKey,
		SessionID:        sessionID,
		EventID:          eventID,
		RegistrationType: registrationType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseQueueToken validates the signature and expiry and returns the
// embedded claims.
func ParseQueueToken(secret, tokenString string) (*QueueClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &QueueClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*QueueClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid queue token")
	}
	return claims, nil
}
