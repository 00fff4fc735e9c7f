package store

import (
	"context"
	"fmt"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// PutWrappedDRK upserts a user's server-opaque wrapped DRK blob. The server
// never inspects blob; it is stored and returned byte-identical.
func (s *Store) PutWrappedDRK(ctx context.Context, userSub string, blob []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO wrapped_drks (user_sub, blob, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_sub) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()`,
		userSub, blob)
	if err != nil {
		return fmt.Errorf("put wrapped drk: %w", err)
	}
	return nil
}

// GetWrappedDRK returns the stored blob verbatim, or nil if the user has
// none.
func (s *Store) GetWrappedDRK(ctx context.Context, userSub string) (*models.WrappedDRK, error) {
	w := &models.WrappedDRK{UserSub: userSub}
	err := s.Pool.QueryRow(ctx, `SELECT blob, updated_at FROM wrapped_drks WHERE user_sub = $1`, userSub).
		Scan(&w.Blob, &w.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wrapped drk: %w", err)
	}
	return w, nil
}

// PutUserEncPubJWK publishes the user's P-256 encryption public key.
func (s *Store) PutUserEncPubJWK(ctx context.Context, userSub string, jwkBytes []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_enc_pub_jwks (user_sub, jwk) VALUES ($1, $2)
		ON CONFLICT (user_sub) DO UPDATE SET jwk = EXCLUDED.jwk`, userSub, jwkBytes)
	if err != nil {
		return fmt.Errorf("put user enc pub jwk: %w", err)
	}
	return nil
}

// GetUserEncPubJWK returns the user's published encryption public key.
func (s *Store) GetUserEncPubJWK(ctx context.Context, userSub string) (*models.UserEncPubJWK, error) {
	j := &models.UserEncPubJWK{UserSub: userSub}
	err := s.Pool.QueryRow(ctx, `SELECT jwk FROM user_enc_pub_jwks WHERE user_sub = $1`, userSub).Scan(&j.JWK)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user enc pub jwk: %w", err)
	}
	return j, nil
}

// PutUserEncPrivJWK stores the client-wrapped encryption private key for
// recovery; the server cannot decrypt it.
func (s *Store) PutUserEncPrivJWK(ctx context.Context, userSub string, blob []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_enc_priv_jwks (user_sub, blob) VALUES ($1, $2)
		ON CONFLICT (user_sub) DO UPDATE SET blob = EXCLUDED.blob`, userSub, blob)
	if err != nil {
		return fmt.Errorf("put user enc priv jwk: %w", err)
	}
	return nil
}

// GetUserEncPrivJWK returns the wrapped private key blob verbatim.
func (s *Store) GetUserEncPrivJWK(ctx context.Context, userSub string) (*models.UserEncPrivJWK, error) {
	j := &models.UserEncPrivJWK{UserSub: userSub}
	err := s.Pool.QueryRow(ctx, `SELECT blob FROM user_enc_priv_jwks WHERE user_sub = $1`, userSub).Scan(&j.Blob)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user enc priv jwk: %w", err)
	}
	return j, nil
}
