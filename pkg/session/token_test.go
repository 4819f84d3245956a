package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenClaims(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)

	claims, err := TokenClaims(signed)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.Equal(exp))

	assert.False(t, claims.Expired(exp.Add(-time.Minute)))
	assert.True(t, claims.Expired(exp))
}

func TestTokenClaims_Opaque(t *testing.T) {
	_, err := TokenClaims("opaque-token")
	require.ErrorIs(t, err, ErrNotJWT)
}

func TestClaims_NoExpiry(t *testing.T) {
	assert.False(t, Claims{Subject: "x"}.Expired(time.Now()))
}
