package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "auth-service",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "alice",
		Type:   "access",
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "auth-service")

	claims, err := v.Verify(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, "")

	_, err := v.Verify(signToken(t, "other-secret", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret, "")

	c := validClaims()
	c.ExpiresAt = gojwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err := v.Verify(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsRefreshToken(t *testing.T) {
	v := NewVerifier(testSecret, "")

	c := validClaims()
	c.Type = "refresh"

	_, err := v.Verify(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	v := NewVerifier(testSecret, "auth-service")

	c := validClaims()
	c.Issuer = "someone-else"

	_, err := v.Verify(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingUserID(t *testing.T) {
	v := NewVerifier(testSecret, "")

	c := validClaims()
	c.UserID = ""

	_, err := v.Verify(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsExpiresIn(t *testing.T) {
	now := time.Now()
	c := Claims{RegisteredClaims: gojwt.RegisteredClaims{
		ExpiresAt: gojwt.NewNumericDate(now.Add(time.Minute)),
	}}
	assert.Equal(t, time.Minute, c.ExpiresIn(now))

	c.ExpiresAt = gojwt.NewNumericDate(now.Add(-time.Minute))
	assert.Equal(t, time.Duration(0), c.ExpiresIn(now))
}
