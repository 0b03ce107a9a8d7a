// ABOUTME: Session token issuing and verification using HS256 signed JWTs
// ABOUTME: Both access and refresh tokens are three-segment JWTs carrying the user id

package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL matches the 24h expiry of the stored token row.
const DefaultTokenTTL = 24 * time.Hour

// TokenIssuer signs and verifies the session tokens of the local strategies.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer with the given signing secret and token
// lifetime. A zero ttl means DefaultTokenTTL.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new access/refresh token pair for the user. The jti claim
// makes consecutive pairs distinct even within one clock tick.
func (i *TokenIssuer) Issue(userID string) (token, refreshToken string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(i.ttl).UTC()

	token, err = i.sign(userID, now, expiresAt, "access")
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	refreshToken, err = i.sign(userID, now, expiresAt, "refresh")
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return token, refreshToken, expiresAt, nil
}

func (i *TokenIssuer) sign(userID string, now, expiresAt time.Time, use string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"jti": uuid.NewString(),
		"use": use,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates a token and returns the user id from its sub claim.
// Expired tokens fail with ErrTokenExpired.
func (i *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredentials
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidCredentials
	}
	return sub, nil
}

// HasTokenShape reports whether the token has the three dot-separated
// segments of a JWT. Structural only; no signature check.
func HasTokenShape(token string) bool {
	if token == "" {
		return false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
