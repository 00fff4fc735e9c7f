package cryptoutil

import (
	"bytes"
	"testing"
)

func TestSealOpenAESGCMRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("random key: %v", err)
	}
	plaintext := []byte("the quick brown fox")
	aad := []byte("column:context")

	sealed, err := SealAESGCM(key, plaintext, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("sealed output contains plaintext")
	}

	opened, err := OpenAESGCM(key, sealed, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenAESGCMRejectsWrongAAD(t *testing.T) {
	key, _ := RandomBytes(32)
	sealed, err := SealAESGCM(key, []byte("secret"), []byte("jwks:private"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenAESGCM(key, sealed, []byte("client:secret")); err == nil {
		t.Fatalf("expected failure opening with mismatched aad")
	}
}

func TestOpenAESGCMRejectsTamperedCiphertext(t *testing.T) {
	key, _ := RandomBytes(32)
	sealed, err := SealAESGCM(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := OpenAESGCM(key, sealed, nil); err == nil {
		t.Fatalf("expected failure opening tampered ciphertext")
	}
}

func TestOpenAESGCMRejectsShortInput(t *testing.T) {
	key, _ := RandomBytes(32)
	if _, err := OpenAESGCM(key, []byte{1, 2, 3}, nil); err == nil {
		t.Fatalf("expected failure for input shorter than nonce")
	}
}

func TestBase64URLRoundTrip(t *testing.T) {
	raw, _ := RandomBytes(32)
	encoded := Base64URLEncode(raw)
	if len(encoded) != 43 {
		t.Fatalf("expected 43-char encoding of 32 bytes, got %d", len(encoded))
	}
	for _, c := range encoded {
		if c == '=' || c == '+' || c == '/' {
			t.Fatalf("encoding contains non-url-safe character %q", c)
		}
	}
	decoded, err := Base64URLDecode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatalf("round trip mismatch")
	}
}

func TestHKDFExpandDeterministic(t *testing.T) {
	secret := []byte("input keying material")
	a, err := HKDFExpand(secret, nil, []byte("label-a"), 32)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	b, err := HKDFExpand(secret, nil, []byte("label-a"), 32)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("same inputs produced different outputs")
	}
	c, err := HKDFExpand(secret, nil, []byte("label-b"), 32)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("distinct labels produced identical outputs")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("same"), []byte("same")) {
		t.Fatalf("equal values reported unequal")
	}
	if ConstantTimeEqual([]byte("same"), []byte("different")) {
		t.Fatalf("unequal values reported equal")
	}
	if ConstantTimeEqual([]byte("same"), []byte("sam")) {
		t.Fatalf("length mismatch reported equal")
	}
}
