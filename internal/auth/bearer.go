package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GateError carries the OAuth error code and HTTP status of a rejected request.
type GateError struct {
	Code        string // invalid_token, insufficient_scope
	Description string
	Status      int
	Err         error
}

func (e *GateError) Error() string { return e.Description }

func (e *GateError) Unwrap() error { return e.Err }

// Gate authenticates session establishing requests.
type Gate struct {
	verifier            Verifier
	resourceMetadataURL string
	requiredScopes      []string
}

// NewGate creates a gate. resourceMetadataURL is advertised in the
// WWW-Authenticate challenge of rejected requests.
func NewGate(v Verifier, resourceMetadataURL string, requiredScopes ...string) *Gate {
	return &Gate{
		verifier:            v,
		resourceMetadataURL: resourceMetadataURL,
		requiredScopes:      requiredScopes,
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("%w: expected 'Bearer TOKEN'", ErrInvalidToken)
	}
	return token, nil
}

// Authenticate verifies the request's bearer credential. Expiry is the
// verifier's decision, including any clock skew it tolerates. Failures are
// returned as *GateError.
func (g *Gate) Authenticate(r *http.Request) (*Identity, error) {
	token, err := BearerToken(r)
	if err != nil {
		desc := "Invalid Authorization header format, expected 'Bearer TOKEN'"
		if errors.Is(err, ErrMissingToken) {
			desc = "Missing Authorization header"
		}
		return nil, &GateError{Code: "invalid_token", Description: desc, Status: http.StatusUnauthorized, Err: err}
	}

	identity, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, &GateError{Code: "invalid_token", Description: "Invalid or expired token", Status: http.StatusUnauthorized, Err: err}
	}
	if identity == nil {
		return nil, &GateError{Code: "invalid_token", Description: "Invalid or expired token", Status: http.StatusUnauthorized, Err: ErrInvalidToken}
	}
	for _, scope := range g.requiredScopes {
		if !identity.HasScope(scope) {
			return nil, &GateError{Code: "insufficient_scope", Description: "Insufficient scope", Status: http.StatusForbidden, Err: ErrInsufficientScope}
		}
	}
	return identity, nil
}

// Reject writes the challenge response for err.
func (g *Gate) Reject(w http.ResponseWriter, err error) {
	var ge *GateError
	if !errors.As(err, &ge) {
		ge = &GateError{Code: "invalid_token", Description: "Invalid or expired token", Status: http.StatusUnauthorized, Err: err}
	}

	challenge := fmt.Sprintf(`Bearer error=%q, error_description=%q`, ge.Code, ge.Description)
	if g.resourceMetadataURL != "" {
		challenge += fmt.Sprintf(`, resource_metadata=%q`, g.resourceMetadataURL)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             ge.Code,
		"error_description": ge.Description,
	})
}
