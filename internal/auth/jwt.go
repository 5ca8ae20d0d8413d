package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

type accessClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
	Scope           string `json:"scope,omitempty"`
}

// JWTVerifier verifies access tokens signed by the issuer's keys.
type JWTVerifier struct {
	keys     KeyProvider
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// JWTOption configures a JWTVerifier.
type JWTOption func(*JWTVerifier)

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) JWTOption {
	return func(v *JWTVerifier) { v.leeway = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) { v.now = now }
}

// NewJWTVerifier creates a verifier that requires iss == issuer and
// audience in aud.
func NewJWTVerifier(keys KeyProvider, issuer, audience string, opts ...JWTOption) *JWTVerifier {
	v := &JWTVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
		log:      logger.Global().WithPrefix("auth"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		},
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		v.log.Warn("JWT verification failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	identity := &Identity{
		Token:    token,
		ClientID: firstNonEmpty(claims.AuthorizedParty, claims.Subject, "unknown"),
		Subject:  claims.Subject,
		Scopes:   strings.Fields(claims.Scope),
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

