package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"golang.org/x/time/rate"
)

// ErrUnknownKey is returned when no key in the set matches a token's kid.
var ErrUnknownKey = errors.New("unknown signing key")

// maxJWKSSize bounds the JWKS response body.
const maxJWKSSize = 1 << 20

// KeyProvider resolves a key id to a verification key.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// KeySet is a cached remote JWKS. Unknown key ids trigger a refetch, rate
// limited so a flood of tokens with bogus kids cannot hammer the issuer.
type KeySet struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger

	fetchMu sync.Mutex
	mu      sync.RWMutex
	keys    map[string]crypto.PublicKey
}

// NewKeySet creates a key set for url. minRefresh is the minimum interval
// between refetches caused by unknown key ids.
func NewKeySet(url string, client *http.Client, minRefresh time.Duration) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(minRefresh), 1),
		log:     logger.Global().WithPrefix("jwks"),
		keys:    make(map[string]crypto.PublicKey),
	}
}

// Key returns the key for kid, fetching the set when kid is unknown.
func (k *KeySet) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}

	if !k.limiter.Allow() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}

	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

func (k *KeySet) lookup(kid string) (crypto.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[kid]
	return key, ok
}

// Refresh refetches the key set.
func (k *KeySet) Refresh(ctx context.Context) error {
	k.fetchMu.Lock()
	defer k.fetchMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSSize)).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, raw := range doc.Keys {
		if raw.Use != "" && raw.Use != "sig" {
			continue
		}
		key, err := raw.publicKey()
		if err != nil {
			k.log.Warn("Skipping JWKS key %q: %v", raw.Kid, err)
			continue
		}
		keys[raw.Kid] = key
	}

	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()

	k.log.Debug("Loaded %d signing keys from %s", len(keys), k.url)
	return nil
}

func (j jwk) publicKey() (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		n, err := decodeBigInt(j.N)
		if err != nil {
			return nil, fmt.Errorf("modulus: %w", err)
		}
		e, err := decodeBigInt(j.E)
		if err != nil {
			return nil, fmt.Errorf("exponent: %w", err)
		}
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return nil, errors.New("exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch j.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", j.Crv)
		}
		x, err := decodeBigInt(j.X)
		if err != nil {
			return nil, fmt.Errorf("x: %w", err)
		}
		y, err := decodeBigInt(j.Y)
		if err != nil {
			return nil, fmt.Errorf("y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", j.Kty)
	}
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
