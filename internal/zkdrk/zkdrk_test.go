package zkdrk

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
)

func encryptTo(t *testing.T, keyAlg jwa.KeyEncryptionAlgorithm, contentAlg jwa.ContentEncryptionAlgorithm) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate recipient key: %v", err)
	}
	drk := make([]byte, 32)
	if _, err := rand.Read(drk); err != nil {
		t.Fatalf("random drk: %v", err)
	}
	compact, err := jwe.Encrypt(drk,
		jwe.WithKey(keyAlg, priv.Public()),
		jwe.WithContentEncryption(contentAlg))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return compact
}

func TestValidateCompactJWEAcceptsECDHESA256GCM(t *testing.T) {
	compact := encryptTo(t, jwa.ECDH_ES(), jwa.A256GCM())
	if err := ValidateCompactJWE(compact); err != nil {
		t.Fatalf("well-formed drk_jwe rejected: %v", err)
	}
}

func TestValidateCompactJWERejectsWrongKeyAlgorithm(t *testing.T) {
	compact := encryptTo(t, jwa.ECDH_ES_A256KW(), jwa.A256GCM())
	if err := ValidateCompactJWE(compact); err == nil {
		t.Fatalf("key-wrapping variant accepted")
	}
}

func TestValidateCompactJWERejectsWrongContentEncryption(t *testing.T) {
	compact := encryptTo(t, jwa.ECDH_ES(), jwa.A128GCM())
	if err := ValidateCompactJWE(compact); err == nil {
		t.Fatalf("A128GCM content encryption accepted")
	}
}

func TestValidateCompactJWERejectsGarbage(t *testing.T) {
	if err := ValidateCompactJWE([]byte("not.a.jwe")); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestHashMatchesSHA256Base64URL(t *testing.T) {
	blob := []byte("compact.jwe.value.goes.here")
	sum := sha256.Sum256(blob)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if got := Hash(blob); got != want {
		t.Fatalf("hash mismatch: got %q want %q", got, want)
	}
}
