package store

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/puzed/darkauth-sub006/internal/jwks"
)

// ListSigningKeys satisfies jwks.Store.
func (s *Store) ListSigningKeys(ctx context.Context) ([]*jwks.SigningKey, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT kid, status, public_key, private_key_sealed, created_at, retired_at
		FROM signing_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}
	defer rows.Close()

	var out []*jwks.SigningKey
	for rows.Next() {
		var (
			kid, status string
			pub         []byte
			sealedPriv  []byte
			createdAt   time.Time
			retiredAt   *time.Time
		)
		if err := rows.Scan(&kid, &status, &pub, &sealedPriv, &createdAt, &retiredAt); err != nil {
			return nil, fmt.Errorf("scan signing key: %w", err)
		}
		priv, err := s.kekOpen(sealedPriv, []byte("jwks:private"))
		if err != nil {
			return nil, fmt.Errorf("open signing key %s: %w", kid, err)
		}
		k := &jwks.SigningKey{
			KID:        kid,
			Status:     jwks.KeyStatus(status),
			PublicKey:  ed25519.PublicKey(pub),
			PrivateKey: ed25519.PrivateKey(priv),
			CreatedAt:  createdAt,
		}
		if retiredAt != nil {
			k.RetiredAt = *retiredAt
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// InsertSigningKey satisfies jwks.Store; sealedPrivate is already
// KEK-encrypted by the caller.
func (s *Store) InsertSigningKey(ctx context.Context, key *jwks.SigningKey, sealedPrivate []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO signing_keys (kid, status, public_key, private_key_sealed, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		key.KID, string(key.Status), []byte(key.PublicKey), sealedPrivate, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert signing key: %w", err)
	}
	return nil
}

// UpdateSigningKeyStatus satisfies jwks.Store.
func (s *Store) UpdateSigningKeyStatus(ctx context.Context, kid string, status jwks.KeyStatus, retiredAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE signing_keys SET status = $2, retired_at = $3 WHERE kid = $1`,
		kid, string(status), retiredAt)
	if err != nil {
		return fmt.Errorf("update signing key status: %w", err)
	}
	return nil
}
