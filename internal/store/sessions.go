package store

import (
	"context"
	"fmt"
	"time"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// CreateSession inserts a freshly issued session row.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sessions
			(session_id, actor_class, principal_id, email, name, csrf_token, refresh_token,
			 otp_required, otp_verified, created_at, expires_at, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sess.SessionID, string(sess.ActorClass), sess.PrincipalID, sess.Email, sess.Name,
		sess.CSRFToken, sess.RefreshToken, sess.OTPRequired, sess.OTPVerified,
		sess.CreatedAt, sess.ExpiresAt, sess.LastSeen)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a non-expired session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.scanSession(ctx, `
		SELECT session_id, actor_class, principal_id, email, name, csrf_token, refresh_token,
			otp_required, otp_verified, created_at, expires_at, last_seen
		FROM sessions WHERE session_id = $1 AND expires_at > now()`, sessionID)
}

// GetSessionByRefreshToken loads a session by its current refresh token,
// used by the /token refresh_token grant.
func (s *Store) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.scanSession(ctx, `
		SELECT session_id, actor_class, principal_id, email, name, csrf_token, refresh_token,
			otp_required, otp_verified, created_at, expires_at, last_seen
		FROM sessions WHERE refresh_token = $1 AND expires_at > now()`, refreshToken)
}

func (s *Store) scanSession(ctx context.Context, query string, arg string) (*models.Session, error) {
	sess := &models.Session{}
	var actorClass string
	err := s.Pool.QueryRow(ctx, query, arg).Scan(
		&sess.SessionID, &actorClass, &sess.PrincipalID, &sess.Email, &sess.Name,
		&sess.CSRFToken, &sess.RefreshToken, &sess.OTPRequired, &sess.OTPVerified,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastSeen)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.ActorClass = models.ActorClass(actorClass)
	return sess, nil
}

// TouchSession slides the session's expiry and last-seen timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET last_seen = now(), expires_at = $2 WHERE session_id = $1`,
		sessionID, expiresAt)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RotateSessionRefreshToken swaps in a new refresh token and extends expiry,
// invalidating the previous token (it no longer matches any row).
func (s *Store) RotateSessionRefreshToken(ctx context.Context, sessionID, newRefreshToken string, expiresAt time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET refresh_token = $2, expires_at = $3, last_seen = now()
		WHERE session_id = $1`, sessionID, newRefreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate session refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found")
	}
	return nil
}

// SetSessionOTPVerified flips the session's otp_verified flag after a
// successful TOTP/backup-code check.
func (s *Store) SetSessionOTPVerified(ctx context.Context, sessionID string, verified bool) error {
	_, err := s.Pool.Exec(ctx, `UPDATE sessions SET otp_verified = $2 WHERE session_id = $1`, sessionID, verified)
	if err != nil {
		return fmt.Errorf("set session otp verified: %w", err)
	}
	return nil
}

// DeleteSession revokes a session (logout or refresh failure).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForPrincipal cascades session revocation for a deleted or
// disabled user/admin.
func (s *Store) DeleteSessionsForPrincipal(ctx context.Context, actorClass models.ActorClass, principalID string) error {
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM sessions WHERE actor_class = $1 AND principal_id = $2`, string(actorClass), principalID)
	if err != nil {
		return fmt.Errorf("delete sessions for principal: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes stale session rows, for a periodic janitor.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
