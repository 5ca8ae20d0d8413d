// Package auth validates the bearer credential presented on session
// establishing requests. The router consumes it through the Verifier
// contract; JWTVerifier is the production implementation backed by the
// issuer's JWKS.
package auth

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrInvalidToken is wrapped by every verification failure.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingToken is returned when the request carries no bearer credential.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInsufficientScope is returned when a valid token lacks a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Identity is the verified result of a bearer credential.
type Identity struct {
	Token     string
	ClientID  string
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the identity was granted scope.
func (i *Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Verifier checks a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}
