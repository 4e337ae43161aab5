// Package crypto encrypts secret values at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Encryptor encrypts values bound to a label. A value encrypted under one
// label does not decrypt under another, so ciphertexts cannot be swapped
// between secrets.
type Encryptor interface {
	EncryptString(label, plaintext string) (string, error)
	DecryptString(label, encoded string) (string, error)
}

// NoOpEncryptor stores values as-is (for development/testing).
type NoOpEncryptor struct{}

func (NoOpEncryptor) EncryptString(_, plaintext string) (string, error) { return plaintext, nil }
func (NoOpEncryptor) DecryptString(_, encoded string) (string, error)   { return encoded, nil }

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("crypto: invalid encryption key")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	// ErrDecryptionFailed is returned when authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

const keySize = 32

// hkdfInfo scopes derived keys to the secret store.
const hkdfInfo = "qualitygate secret store v1"

// Cipher provides AES-256-GCM encryption and decryption.
type Cipher struct {
	aead cipher.AEAD
}

var _ Encryptor = (*Cipher)(nil)

// NewCipher creates a Cipher from a 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: key must be exactly %d bytes, got %d", ErrInvalidKey, keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromBase64 creates a Cipher from a base64-encoded 32 byte key.
func NewCipherFromBase64(b64Key string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 key: %v", ErrInvalidKey, err)
	}
	return NewCipher(key)
}

// NewCipherFromPassphrase derives the key from a passphrase and salt with
// HKDF-SHA256.
func NewCipherFromPassphrase(passphrase, salt string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return NewCipher(key)
}

// EncryptString encrypts plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) EncryptString(label, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. The label must match.
func (c *Cipher) DecryptString(label, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrInvalidCiphertext)
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(label))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
