// Package jwks manages the server's Ed25519 signing-key lifecycle: exactly
// one "current" key used to sign new ID tokens, with retired keys kept
// around for a grace window so tokens already issued keep validating.
package jwks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/puzed/darkauth-sub006/internal/kek"
)

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	StatusCurrent KeyStatus = "current"
	StatusRetired KeyStatus = "retired"
)

// SigningKey is a single Ed25519 keypair tracked in the rotation table.
type SigningKey struct {
	KID        string
	Status     KeyStatus
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	CreatedAt  time.Time
	RetiredAt  time.Time
}

// Store persists signing keys; implemented by internal/store against Postgres.
type Store interface {
	ListSigningKeys(ctx context.Context) ([]*SigningKey, error)
	InsertSigningKey(ctx context.Context, key *SigningKey, sealedPrivate []byte) error
	UpdateSigningKeyStatus(ctx context.Context, kid string, status KeyStatus, retiredAt time.Time) error
}

const sealAAD = "jwks:private"

// retiredGraceWindow is how long a retired key keeps publishing in the JWKS
// after rotation, so tokens signed just before a rotation still validate.
const retiredGraceWindow = 24 * time.Hour

// Manager caches the signing-key set in memory behind an RWMutex; the set is
// loaded from the store at startup and updated in place on rotation.
type Manager struct {
	mu      sync.RWMutex
	keys    map[string]*SigningKey
	current string
	store   Store
	kek     *kek.Service
}

// NewManager loads the existing key set from store, generating a first key
// if none exists.
func NewManager(ctx context.Context, store Store, kekSvc *kek.Service) (*Manager, error) {
	m := &Manager{keys: make(map[string]*SigningKey), store: store, kek: kekSvc}
	if err := m.reload(ctx); err != nil {
		return nil, err
	}
	if m.current == "" {
		if _, err := m.Rotate(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap first signing key: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) reload(ctx context.Context) error {
	keys, err := m.store.ListSigningKeys(ctx)
	if err != nil {
		return fmt.Errorf("list signing keys: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make(map[string]*SigningKey, len(keys))
	m.current = ""
	for _, k := range keys {
		m.keys[k.KID] = k
		if k.Status == StatusCurrent {
			m.current = k.KID
		}
	}
	return nil
}

// Rotate generates a new current key, demoting the previous current key to
// retired with a grace-window expiry recorded for cleanup elsewhere.
func (m *Manager) Rotate(ctx context.Context) (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	sealed, err := m.kek.Encrypt(priv, []byte(sealAAD))
	if err != nil {
		return nil, fmt.Errorf("seal signing key: %w", err)
	}
	newKey := &SigningKey{
		KID:        uuid.NewString(),
		Status:     StatusCurrent,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now(),
	}
	if err := m.store.InsertSigningKey(ctx, newKey, sealed); err != nil {
		return nil, fmt.Errorf("insert signing key: %w", err)
	}

	m.mu.Lock()
	previous := m.current
	m.keys[newKey.KID] = newKey
	m.current = newKey.KID
	m.mu.Unlock()

	if previous != "" {
		if err := m.store.UpdateSigningKeyStatus(ctx, previous, StatusRetired, time.Now()); err != nil {
			return nil, fmt.Errorf("retire previous signing key: %w", err)
		}
		m.mu.Lock()
		if k, ok := m.keys[previous]; ok {
			k.Status = StatusRetired
			k.RetiredAt = time.Now()
		}
		m.mu.Unlock()
	}
	return newKey, nil
}

// Current returns the active signing key.
func (m *Manager) Current() (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[m.current]
	if !ok {
		return nil, fmt.Errorf("no current signing key")
	}
	return k, nil
}

// PublicJWKS builds the JSON Web Key Set of every non-expired key (current
// and retired), for publication at the OIDC jwks_uri.
func (m *Manager) PublicJWKS() (jwk.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := jwk.NewSet()
	for _, k := range m.keys {
		if k.Status == StatusRetired && time.Since(k.RetiredAt) > retiredGraceWindow {
			continue
		}
		key, err := jwk.Import(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("import public key %s: %w", k.KID, err)
		}
		if err := key.Set(jwk.KeyIDKey, k.KID); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.EdDSA()); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// SignIDToken signs claims as a compact JWS using the current key.
func (m *Manager) SignIDToken(claims map[string]interface{}) ([]byte, error) {
	current, err := m.Current()
	if err != nil {
		return nil, err
	}
	payload, err := marshalClaims(claims)
	if err != nil {
		return nil, err
	}
	key, err := jwk.Import(current.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyIDKey, current.KID); err != nil {
		return nil, err
	}
	return jws.Sign(payload, jws.WithKey(jwa.EdDSA(), key))
}

func marshalClaims(claims map[string]interface{}) ([]byte, error) {
	return json.Marshal(claims)
}
