package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned for ciphertexts that cannot be opened.
var ErrMalformed = errors.New("malformed sealed value")

// Sealer protects personal data at rest (payer phone numbers) with AES-GCM.
// Each value is bound to a context string, typically its row key, so a
// ciphertext copied to another row fails to open.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key string) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts value bound to boundTo. The empty string seals to itself.
func (s *Sealer) Seal(value, boundTo string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.gcm.Seal(nonce, nonce, []byte(value), []byte(boundTo))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, boundTo string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plain, err := s.gcm.Open(nil, nonce, ciphertext, []byte(boundTo))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(plain), nil
}
