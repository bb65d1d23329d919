package config

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The bearer token is opaque to the server contract, but when it happens
// to be a JWT its claims are useful locally: the subject doubles as the
// user id and the expiry lets the CLI warn before dialing with a dead
// token. The signature is never checked here; the server does that.

// TokenSubject extracts the subject claim of a JWT bearer token.
func TokenSubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("ParseUnverified: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// TokenExpiry extracts the expiry claim of a JWT bearer token. Tokens
// without an expiry return the zero time and no error.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("ParseUnverified: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
