// Package secrets seals configuration values (the PostPulse API key) so
// they can live in a config file on disk. A sealed value is the prefix
// "enc:" followed by base64 JSON holding an AES-256-GCM ciphertext whose
// key is derived from a password with scrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Prefix marks a sealed value.
const Prefix = "enc:"

const (
	envelopeVersion = 1
	saltSize        = 16
	keySize         = 32

	// scrypt cost parameters (N=32768, r=8, p=1)
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrInvalidPassword is returned when the password cannot open a sealed value.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrMalformed indicates the sealed value cannot be decoded.
	ErrMalformed = errors.New("malformed sealed value")
	// ErrPasswordRequired is returned when a sealed value is opened without a password.
	ErrPasswordRequired = errors.New("password required for sealed value")
)

type envelope struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts value with password. An empty value stays empty.
func Seal(value, password string) (string, error) {
	if value == "" {
		return "", nil
	}
	if password == "" {
		return "", ErrPasswordRequired
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	raw, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(value), nil),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(raw), nil
}

// Open decrypts a sealed value. Values without the prefix are returned
// unchanged; the bool reports whether decryption happened.
func Open(value, password string) ([]byte, bool, error) {
	if !IsSealed(value) {
		return []byte(value), false, nil
	}
	if password == "" {
		return nil, true, ErrPasswordRequired
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != envelopeVersion {
		return nil, true, fmt.Errorf("%w: unsupported version %d", ErrMalformed, env.Version)
	}
	if len(env.Salt) != saltSize {
		return nil, true, fmt.Errorf("%w: bad salt", ErrMalformed)
	}

	aead, err := newAEAD(password, env.Salt)
	if err != nil {
		return nil, true, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, true, fmt.Errorf("%w: bad nonce", ErrMalformed)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, true, ErrInvalidPassword
	}
	return plaintext, true, nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
