package crypto

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	svc, err := NewService(key, 1)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)
	tenantID := uuid.New()
	plaintext := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	ciphertext, iv, err := svc.Encrypt(tenantID, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if len(iv) != 16 {
		// base64url of 12 raw bytes without padding is 16 chars.
		t.Errorf("iv length = %d, want 16", len(iv))
	}

	got, err := svc.Decrypt(tenantID, ciphertext, iv, 1)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongTenantFails(t *testing.T) {
	svc := newTestService(t)
	ciphertext, iv, err := svc.Encrypt(uuid.New(), []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := svc.Decrypt(uuid.New(), ciphertext, iv, 1); err != ErrDecrypt {
		t.Errorf("Decrypt() with wrong tenant = %v, want ErrDecrypt", err)
	}
}

func TestDecryptKeyVersionMismatch(t *testing.T) {
	svc := newTestService(t)
	tenantID := uuid.New()
	ciphertext, iv, err := svc.Encrypt(tenantID, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := svc.Decrypt(tenantID, ciphertext, iv, 2); err != ErrDecrypt {
		t.Errorf("Decrypt() with mismatched version = %v, want ErrDecrypt", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	svc := newTestService(t)
	tenantID := uuid.New()
	ciphertext, iv, err := svc.Encrypt(tenantID, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	ciphertext[0] ^= 0xFF

	if _, err := svc.Decrypt(tenantID, ciphertext, iv, 1); err != ErrDecrypt {
		t.Errorf("Decrypt() with tampered ciphertext = %v, want ErrDecrypt", err)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	svc := newTestService(t)
	tenantID := uuid.New()

	c1, iv1, _ := svc.Encrypt(tenantID, []byte("same plaintext"))
	c2, iv2, _ := svc.Encrypt(tenantID, []byte("same plaintext"))

	if iv1 == iv2 {
		t.Error("two encryptions produced the same IV")
	}
	if bytes.Equal(c1, c2) {
		t.Error("two encryptions produced the same ciphertext")
	}
}

func TestNewServiceRejectsBadKeySize(t *testing.T) {
	if _, err := NewService([]byte("too short"), 1); err == nil {
		t.Error("NewService() with short key: want error, got nil")
	}
}
