package token

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when an ID token carries no exp claim.
var ErrNoExpiry = errors.New("id token has no expiry")

// ExpiryFromIDToken reads the exp claim of a JWT without verifying its signature.
// Verification is the provider's job; this only recovers an expiry hint.
func ExpiryFromIDToken(raw string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoExpiry
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, ErrNoExpiry
	}
	ms := claims.ExpiresAt.Time.UnixMilli()
	return &ms, nil
}

// Claims decodes the payload of a JWT without verifying its signature.
func Claims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
