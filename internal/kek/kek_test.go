package kek

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("new salt: %v", err)
	}
	svc, err := New("operator-passphrase", salt)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	plaintext := []byte("private jwk bytes")
	aad := []byte("jwks:private")
	sealed, err := svc.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := svc.Decrypt(sealed, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecryptRejectsContextSwap(t *testing.T) {
	salt, _ := NewSalt()
	svc, err := New("operator-passphrase", salt)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	sealed, err := svc.Encrypt([]byte("secret"), []byte("client:secret:abc"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := svc.Decrypt(sealed, []byte("client:secret:xyz")); err == nil {
		t.Fatalf("ciphertext accepted under a different storage context")
	}
}

func TestSamePassphraseAndSaltDeriveSameKey(t *testing.T) {
	salt, _ := NewSalt()
	first, err := New("operator-passphrase", salt)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	second, err := New("operator-passphrase", salt)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	sealed, err := first.Encrypt([]byte("survives restart"), nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := second.Decrypt(sealed, nil)
	if err != nil {
		t.Fatalf("decrypt after re-derivation: %v", err)
	}
	if string(opened) != "survives restart" {
		t.Fatalf("unexpected plaintext %q", opened)
	}
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	salt, _ := NewSalt()
	if _, err := New("", salt); err == nil {
		t.Fatalf("empty passphrase accepted")
	}
}

func TestNewRejectsShortSalt(t *testing.T) {
	if _, err := New("passphrase", []byte("short")); err == nil {
		t.Fatalf("short salt accepted")
	}
}
