package store

import (
	"context"
	"fmt"
	"time"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// CreatePendingAuthorization inserts a new /authorize row.
func (s *Store) CreatePendingAuthorization(ctx context.Context, p *models.PendingAuthorization) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO pending_authorizations
			(request_id, client_id, redirect_uri, response_type, scope, state, nonce,
			 code_challenge, code_challenge_method, zk_pub_jwk, user_sub, origin, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.RequestID, p.ClientID, p.RedirectURI, p.ResponseType, p.Scope, p.State, p.Nonce,
		p.CodeChallenge, p.CodeChallengeMethod, nullBytes(p.ZKPubJWK), nullString(p.UserSub),
		p.Origin, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert pending authorization: %w", err)
	}
	return nil
}

// GetPendingAuthorization loads a non-expired pending-auth row by id.
func (s *Store) GetPendingAuthorization(ctx context.Context, requestID string) (*models.PendingAuthorization, error) {
	p := &models.PendingAuthorization{}
	var userSub *string
	var zkPub []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT request_id, client_id, redirect_uri, response_type, scope, state, nonce,
			code_challenge, code_challenge_method, zk_pub_jwk, user_sub, origin, created_at, expires_at
		FROM pending_authorizations WHERE request_id = $1 AND expires_at > now()`, requestID).
		Scan(&p.RequestID, &p.ClientID, &p.RedirectURI, &p.ResponseType, &p.Scope, &p.State, &p.Nonce,
			&p.CodeChallenge, &p.CodeChallengeMethod, &zkPub, &userSub, &p.Origin, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pending authorization: %w", err)
	}
	p.ZKPubJWK = zkPub
	if userSub != nil {
		p.UserSub = *userSub
	}
	return p, nil
}

// BindPendingAuthorizationUser records the authenticated principal on the
// pending row at /authorize/finalize time.
func (s *Store) BindPendingAuthorizationUser(ctx context.Context, requestID, userSub string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE pending_authorizations SET user_sub = $2
		WHERE request_id = $1 AND expires_at > now()`, requestID, userSub)
	if err != nil {
		return fmt.Errorf("bind pending authorization user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending authorization not found or expired")
	}
	return nil
}

// ConsumePendingAuthorization deletes the pending-auth row once it has been
// finalized into an authorization code (single-use).
func (s *Store) ConsumePendingAuthorization(ctx context.Context, requestID string) (*models.PendingAuthorization, error) {
	p := &models.PendingAuthorization{}
	var userSub *string
	var zkPub []byte
	err := s.Pool.QueryRow(ctx, `
		DELETE FROM pending_authorizations WHERE request_id = $1 AND expires_at > now()
		RETURNING request_id, client_id, redirect_uri, response_type, scope, state, nonce,
			code_challenge, code_challenge_method, zk_pub_jwk, user_sub, origin, created_at, expires_at`, requestID).
		Scan(&p.RequestID, &p.ClientID, &p.RedirectURI, &p.ResponseType, &p.Scope, &p.State, &p.Nonce,
			&p.CodeChallenge, &p.CodeChallengeMethod, &zkPub, &userSub, &p.Origin, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	p.ZKPubJWK = zkPub
	if userSub != nil {
		p.UserSub = *userSub
	}
	return p, nil
}

// CreateAuthorizationCode inserts a single-use authorization code, TTL <= 60s.
func (s *Store) CreateAuthorizationCode(ctx context.Context, c *models.AuthorizationCode) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO authorization_codes
			(code, request_id, user_sub, client_id, scope, nonce, code_challenge, code_challenge_method, expires_at, drk_jwe)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.Code, c.RequestID, c.UserSub, c.ClientID, c.Scope, c.Nonce,
		c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt, nullBytes(c.DRKJWE))
	if err != nil {
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode deletes the code on first use (compare-and-consume);
// a second call for the same code finds no row, giving /token its
// invalid_grant-on-replay behavior.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	c := &models.AuthorizationCode{}
	var drkJWE []byte
	err := s.Pool.QueryRow(ctx, `
		DELETE FROM authorization_codes WHERE code = $1 AND expires_at > now()
		RETURNING code, request_id, user_sub, client_id, scope, nonce, code_challenge, code_challenge_method, expires_at, drk_jwe`, code).
		Scan(&c.Code, &c.RequestID, &c.UserSub, &c.ClientID, &c.Scope, &c.Nonce,
			&c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt, &drkJWE)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	c.DRKJWE = drkJWE
	return c, nil
}

// PurgeExpiredAuthz deletes stale pending-authorizations and authorization
// codes, intended for a periodic janitor goroutine.
func (s *Store) PurgeExpiredAuthz(ctx context.Context) error {
	now := time.Now()
	if _, err := s.Pool.Exec(ctx, `DELETE FROM pending_authorizations WHERE expires_at <= $1`, now); err != nil {
		return fmt.Errorf("purge pending authorizations: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at <= $1`, now); err != nil {
		return fmt.Errorf("purge authorization codes: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
