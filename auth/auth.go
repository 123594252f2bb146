// Package auth is the narrow authenticated-principal extraction
// collaborator: it validates bearer tokens minted by the external OAuth
// layer and yields the principal email. Token issuance lives outside the
// core.
package auth

import (
	"strings"
	"time"

	"campusride/core"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Principal parses and validates a token string, returning the principal
// email. Any parse, signature, or expiry failure maps to the
// authentication error; no state is touched before this check.
func (v *Verifier) Principal(tokenString string) (core.Email, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", core.ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", core.ErrUnauthenticated
	}
	email, _ := claims["email"].(string)
	if email == "" {
		// fall back to the subject claim
		email, _ = claims["sub"].(string)
	}
	if email == "" {
		return "", core.ErrUnauthenticated
	}
	return core.NormalizeEmail(core.Email(email))
}

// FromAuthHeader extracts the principal from an Authorization header
// value of the form "Bearer <token>".
func (v *Verifier) FromAuthHeader(header string) (core.Email, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", core.ErrUnauthenticated
	}
	return v.Principal(strings.TrimSpace(strings.TrimPrefix(header, prefix)))
}

// Sign mints a token for the principal. Used by tests and the demo
// server; production tokens come from the external OAuth layer.
func (v *Verifier) Sign(email core.Email, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": string(email),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
