package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by TokenClaims when the bearer token is opaque.
var ErrNotJWT = errors.New("bearer token is not a JWT")

// Claims is the informational subset of a bearer token's claims.
type Claims struct {
	Subject   string
	ExpiresAt *time.Time
}

// Expired reports whether the token carries an expiry that has passed.
func (c Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// TokenClaims decodes a bearer token without verifying its signature. The
// client cannot verify it and never relies on the result for authorization;
// the server remains the only judge of a credential.
func TokenClaims(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	out := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		t := rc.ExpiresAt.UTC()
		out.ExpiresAt = &t
	}
	return out, nil
}
