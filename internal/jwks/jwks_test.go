package jwks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/puzed/darkauth-sub006/internal/kek"
)

type memKeyStore struct {
	keys   map[string]*SigningKey
	sealed map[string][]byte
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]*SigningKey), sealed: make(map[string][]byte)}
}

func (m *memKeyStore) ListSigningKeys(context.Context) ([]*SigningKey, error) {
	out := make([]*SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memKeyStore) InsertSigningKey(_ context.Context, key *SigningKey, sealedPrivate []byte) error {
	cp := *key
	m.keys[key.KID] = &cp
	m.sealed[key.KID] = sealedPrivate
	return nil
}

func (m *memKeyStore) UpdateSigningKeyStatus(_ context.Context, kid string, status KeyStatus, retiredAt time.Time) error {
	if k, ok := m.keys[kid]; ok {
		k.Status = status
		k.RetiredAt = retiredAt
	}
	return nil
}

func newTestKEK(t *testing.T) *kek.Service {
	t.Helper()
	salt, err := kek.NewSalt()
	if err != nil {
		t.Fatalf("new salt: %v", err)
	}
	svc, err := kek.New("test-passphrase", salt)
	if err != nil {
		t.Fatalf("new kek: %v", err)
	}
	return svc
}

func TestNewManagerBootstrapsFirstKey(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	current, err := m.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Status != StatusCurrent {
		t.Fatalf("bootstrap key status = %q", current.Status)
	}
	if _, ok := store.sealed[current.KID]; !ok {
		t.Fatalf("private key not persisted sealed")
	}
}

func TestRotateKeepsExactlyOneCurrent(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	first, _ := m.Current()

	rotated, err := m.Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.KID == first.KID {
		t.Fatalf("rotation reused the same kid")
	}

	currentCount := 0
	for _, k := range store.keys {
		if k.Status == StatusCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current key, found %d", currentCount)
	}
	if store.keys[first.KID].Status != StatusRetired {
		t.Fatalf("previous key not retired")
	}
}

func TestPublicJWKSIncludesRetiredWithinGrace(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	set, err := m.PublicJWKS()
	if err != nil {
		t.Fatalf("public jwks: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected retired-in-grace key to remain published, set has %d keys", set.Len())
	}
}

func TestPublicJWKSDropsExpiredRetiredKeys(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	first, _ := m.Current()
	if _, err := m.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	m.mu.Lock()
	m.keys[first.KID].RetiredAt = time.Now().Add(-25 * time.Hour)
	m.mu.Unlock()

	set, err := m.PublicJWKS()
	if err != nil {
		t.Fatalf("public jwks: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected only the current key after grace expiry, set has %d keys", set.Len())
	}
}

func TestSignIDTokenVerifiesWithCurrentKey(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	signed, err := m.SignIDToken(map[string]interface{}{
		"iss": "https://auth.example.com",
		"sub": "user-123",
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	current, _ := m.Current()
	payload, err := jws.Verify(signed, jws.WithKey(jwa.EdDSA(), current.PublicKey))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims["sub"] != "user-123" {
		t.Fatalf("unexpected sub claim %v", claims["sub"])
	}
}

func TestSignIDTokenRejectedByRotatedOutKey(t *testing.T) {
	store := newMemKeyStore()
	m, err := NewManager(context.Background(), store, newTestKEK(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	old, _ := m.Current()
	if _, err := m.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	signed, err := m.SignIDToken(map[string]interface{}{"sub": "user-123"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := jws.Verify(signed, jws.WithKey(jwa.EdDSA(), old.PublicKey)); err == nil {
		t.Fatalf("token signed by new key verified with old key")
	}
}
