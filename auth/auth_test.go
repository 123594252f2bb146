package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/core"
)

func TestSignAndPrincipalRoundTrip(t *testing.T) {
	v := NewVerifier("round-trip-secret")

	token, err := v.Sign("Host@Campus.EDU", time.Minute)
	require.NoError(t, err)

	email, err := v.Principal(token)
	require.NoError(t, err)
	assert.Equal(t, core.Email("host@campus.edu"), email)
}

func TestPrincipalRejectsWrongSecret(t *testing.T) {
	minter := NewVerifier("secret-a")
	token, err := minter.Sign("host@campus.edu", time.Minute)
	require.NoError(t, err)

	v := NewVerifier("secret-b")
	_, err = v.Principal(token)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestPrincipalRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("expiry-secret")
	token, err := v.Sign("host@campus.edu", -time.Minute)
	require.NoError(t, err)

	_, err = v.Principal(token)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestPrincipalRejectsGarbage(t *testing.T) {
	v := NewVerifier("secret")
	for _, bad := range []string{"", "not-a-token", "a.b.c"} {
		_, err := v.Principal(bad)
		assert.ErrorIs(t, err, core.ErrUnauthenticated, "token %q", bad)
	}
}

func TestPrincipalRejectsUnexpectedAlgorithm(t *testing.T) {
	// alg "none" tokens must never validate even with a matching payload.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"email": "host@campus.edu",
		"exp":   time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier("secret")
	_, err = v.Principal(signed)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestPrincipalFallsBackToSubjectClaim(t *testing.T) {
	secret := "subject-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rider@campus.edu",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	email, err := NewVerifier(secret).Principal(signed)
	require.NoError(t, err)
	assert.Equal(t, core.Email("rider@campus.edu"), email)
}

func TestPrincipalRejectsMissingEmail(t *testing.T) {
	secret := "no-email-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = NewVerifier(secret).Principal(signed)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestFromAuthHeader(t *testing.T) {
	v := NewVerifier("header-secret")
	token, err := v.Sign("host@campus.edu", time.Minute)
	require.NoError(t, err)

	email, err := v.FromAuthHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, core.Email("host@campus.edu"), email)

	for _, bad := range []string{"", token, "Basic " + token, "bearer " + token} {
		_, err := v.FromAuthHeader(bad)
		assert.ErrorIs(t, err, core.ErrUnauthenticated, "header %q", bad)
	}
}
