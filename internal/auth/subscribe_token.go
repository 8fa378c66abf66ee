// Package auth issues and verifies the signed tokens that gate private
// channel subscriptions. The API service signs a token for one socket and one
// channel after checking project membership; the hub verifies it on subscribe.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const subscribeTokenTTL = 5 * time.Minute

// SubscribeClaims binds a token to one socket and one channel so it cannot be
// replayed for another connection or channel.
type SubscribeClaims struct {
	jwt.RegisteredClaims

	Channel  string `json:"channel"`
	SocketID string `json:"socket_id"`
	UserID   string `json:"user_id"`
}

type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// SignSubscribeToken returns a short-lived token authorizing socketID to join channel.
func (s *TokenSigner) SignSubscribeToken(userID, socketID, channel string) (string, error) {
	now := time.Now()
	claims := SubscribeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(subscribeTokenTTL)),
		},
		Channel:  channel,
		SocketID: socketID,
		UserID:   userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign subscribe token: %w", err)
	}
	return signed, nil
}

// VerifySubscribeToken validates signature and expiry and returns the claims.
func (s *TokenSigner) VerifySubscribeToken(tokenString string) (*SubscribeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SubscribeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse subscribe token: %w", err)
	}
	if claims, ok := token.Claims.(*SubscribeClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid subscribe token")
}
