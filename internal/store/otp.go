package store

import (
	"context"
	"fmt"
	"time"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// GetOTPEnrollment loads the current enrollment state for a principal, or
// nil if the principal has never started enrollment.
func (s *Store) GetOTPEnrollment(ctx context.Context, actorClass models.ActorClass, principalID string) (*models.OTPEnrollment, error) {
	e := &models.OTPEnrollment{ActorClass: actorClass, PrincipalID: principalID}
	var verifiedAt, lastUsedAt *time.Time
	var hashes [][]byte
	err := s.Pool.QueryRow(ctx, `
		SELECT secret_sealed, created_at, verified_at, backup_hashes, last_used_at, pending
		FROM otp_enrollments WHERE actor_class = $1 AND principal_id = $2`,
		string(actorClass), principalID).
		Scan(&e.SecretSealed, &e.CreatedAt, &verifiedAt, &hashes, &lastUsedAt, &e.Pending)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get otp enrollment: %w", err)
	}
	e.VerifiedAt = verifiedAt
	e.LastUsedAt = lastUsedAt
	e.BackupHashes = hashes
	return e, nil
}

// UpsertOTPEnrollment replaces the enrollment row, e.g. starting a new
// pending setup or recording verification.
func (s *Store) UpsertOTPEnrollment(ctx context.Context, e *models.OTPEnrollment) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO otp_enrollments
			(actor_class, principal_id, secret_sealed, created_at, verified_at, backup_hashes, last_used_at, pending)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (actor_class, principal_id) DO UPDATE SET
			secret_sealed = EXCLUDED.secret_sealed, created_at = EXCLUDED.created_at,
			verified_at = EXCLUDED.verified_at, backup_hashes = EXCLUDED.backup_hashes,
			last_used_at = EXCLUDED.last_used_at, pending = EXCLUDED.pending`,
		string(e.ActorClass), e.PrincipalID, e.SecretSealed, e.CreatedAt, e.VerifiedAt,
		e.BackupHashes, e.LastUsedAt, e.Pending)
	if err != nil {
		return fmt.Errorf("upsert otp enrollment: %w", err)
	}
	return nil
}

// ConsumeBackupCode atomically removes one matching hash from the stored
// set, giving single-use semantics.
func (s *Store) ConsumeBackupCode(ctx context.Context, actorClass models.ActorClass, principalID string, hash []byte) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin consume backup code: %w", err)
	}
	defer tx.Rollback(ctx)

	var hashes [][]byte
	err = tx.QueryRow(ctx, `
		SELECT backup_hashes FROM otp_enrollments
		WHERE actor_class = $1 AND principal_id = $2 FOR UPDATE`, string(actorClass), principalID).
		Scan(&hashes)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("lock otp enrollment: %w", err)
	}

	idx := -1
	for i, h := range hashes {
		if len(h) == len(hash) && string(h) == string(hash) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	remaining := append(append([][]byte{}, hashes[:idx]...), hashes[idx+1:]...)
	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE otp_enrollments SET backup_hashes = $3, last_used_at = $4
		WHERE actor_class = $1 AND principal_id = $2`, string(actorClass), principalID, remaining, now); err != nil {
		return false, fmt.Errorf("update otp enrollment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit consume backup code: %w", err)
	}
	return true, nil
}

// DeleteOTPEnrollment disables 2FA for a principal, returning to "absent".
func (s *Store) DeleteOTPEnrollment(ctx context.Context, actorClass models.ActorClass, principalID string) error {
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM otp_enrollments WHERE actor_class = $1 AND principal_id = $2`,
		string(actorClass), principalID)
	if err != nil {
		return fmt.Errorf("delete otp enrollment: %w", err)
	}
	return nil
}
