// Package crypto implements AES-256-GCM encryption of trace and conversation
// content at rest, with a per-tenant data key derived from a process-wide
// master key (C1).
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

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM standard nonce size (96 bits).
	NonceSize = 12

	hkdfInfo = "promptgate/tenant-data-key/v1"
)

// ErrDecrypt is returned for any decryption failure: key-version mismatch,
// tag verification failure, or malformed ciphertext/IV. Decrypt never
// panics; every failure mode collapses to this sentinel so callers can
// treat decryption as a clean, recoverable failure (§7 DecryptError).
var ErrDecrypt = errors.New("crypto: decryption failed")

// Service derives per-tenant data keys from a master key and performs
// AES-256-GCM encryption/decryption of opaque byte payloads.
type Service struct {
	masterKey []byte
	version   int
}

// NewService creates a Service from a raw 32-byte master key and the active
// key version to stamp on new ciphertexts.
func NewService(masterKey []byte, version int) (*Service, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("crypto: master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	return &Service{masterKey: masterKey, version: version}, nil
}

// KeyVersion returns the key version new ciphertexts are stamped with.
func (s *Service) KeyVersion() int {
	return s.version
}

// tenantKey derives a 32-byte AES key for tenantID via HKDF-SHA-256 over the
// master key, using the tenant ID as salt so no two tenants share a key.
func (s *Service) tenantKey(tenantID uuid.UUID) ([]byte, error) {
	h := hkdf.New(sha256.New, s.masterKey, tenantID[:], []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("crypto: deriving tenant key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext for tenantID. The returned iv is a fresh
// 96-bit random nonce, base64url-encoded without padding (16 characters); the returned
// ciphertext is base64-free raw bytes with the 128-bit GCM tag appended,
// suitable for storage in a bytea/text column alongside the IV.
func (s *Service) Encrypt(tenantID uuid.UUID, plaintext []byte) (ciphertext []byte, iv string, err error) {
	key, err := s.tenantKey(tenantID)
	if err != nil {
		return nil, "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	iv = base64.RawURLEncoding.EncodeToString(nonce)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. keyVersion is the version the ciphertext was
// stamped with at write time; a mismatch with the Service's current version
// is treated the same as a tag-verification failure — a clean ErrDecrypt,
// never a panic — since a version bump implies the master key (or its
// derivation) may have rotated and old tenant keys are no longer derivable
// the same way.
func (s *Service) Decrypt(tenantID uuid.UUID, ciphertext []byte, iv string, keyVersion int) ([]byte, error) {
	if keyVersion != s.version {
		return nil, ErrDecrypt
	}

	nonce, err := base64.RawURLEncoding.DecodeString(iv)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}

	key, err := s.tenantKey(tenantID)
	if err != nil {
		return nil, ErrDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecrypt
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecrypt
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// EncryptString is a convenience wrapper for the common case of encrypting
// JSON-marshalled text.
func (s *Service) EncryptString(tenantID uuid.UUID, plaintext string) (ciphertext []byte, iv string, err error) {
	return s.Encrypt(tenantID, []byte(plaintext))
}

// DecryptString is the string counterpart of Decrypt.
func (s *Service) DecryptString(tenantID uuid.UUID, ciphertext []byte, iv string, keyVersion int) (string, error) {
	pt, err := s.Decrypt(tenantID, ciphertext, iv, keyVersion)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
