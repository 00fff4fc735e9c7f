package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// CreateUser inserts a new user row and its OPAQUE envelope atomically; email
// is normalized to lowercase for the uniqueness constraint.
func (s *Store) CreateUser(ctx context.Context, email, name string, envelope, oprfKeySealed []byte, identityS string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	u := &models.User{Sub: uuid.NewString(), Email: email, Name: name, CreatedAt: time.Now()}
	_, err = tx.Exec(ctx, `
		INSERT INTO users (sub, email, name, created_at, email_verified, password_reset_required)
		VALUES ($1, $2, $3, $4, false, false)`, u.Sub, u.Email, u.Name, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_envelopes (user_sub, record, oprf_key_sealed, identity_s)
		VALUES ($1, $2, $3, $4)`, u.Sub, envelope, oprfKeySealed, identityS)
	if err != nil {
		return nil, fmt.Errorf("insert user envelope: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_groups (user_sub, group_key) VALUES ($1, 'default')
		ON CONFLICT DO NOTHING`, u.Sub)
	if err != nil {
		return nil, fmt.Errorf("assign default group: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks up a user by case-insensitive email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(ctx, `SELECT sub, email, name, created_at, email_verified, password_reset_required
		FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// GetUserBySub looks up a user by primary key.
func (s *Store) GetUserBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.scanUser(ctx, `SELECT sub, email, name, created_at, email_verified, password_reset_required
		FROM users WHERE sub = $1`, sub)
}

func (s *Store) scanUser(ctx context.Context, query string, arg string) (*models.User, error) {
	u := &models.User{}
	err := s.Pool.QueryRow(ctx, query, arg).
		Scan(&u.Sub, &u.Email, &u.Name, &u.CreatedAt, &u.EmailVerified, &u.PasswordResetRequired)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// ListUsers returns a page of users ordered by creation time, for the
// directory endpoint gated by darkauth.users:read.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT sub, email, name, created_at, email_verified, password_reset_required
		FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.Sub, &u.Email, &u.Name, &u.CreatedAt, &u.EmailVerified, &u.PasswordResetRequired); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	var total int
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return out, total, rows.Err()
}

// DeleteUser removes the user row; the schema cascades to envelope, DRK
// material and group, permission and organization memberships. Sessions
// carry no foreign key and are not removed here (see
// DeleteSessionsForPrincipal).
func (s *Store) DeleteUser(ctx context.Context, sub string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM users WHERE sub = $1`, sub)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// GetUserEnvelope loads the OPAQUE record for login; identityUSealed is
// returned for the caller to re-seal into the login-session row, never to
// the client.
func (s *Store) GetUserEnvelope(ctx context.Context, userSub string) (*models.UserEnvelope, error) {
	e := &models.UserEnvelope{}
	err := s.Pool.QueryRow(ctx, `
		SELECT user_sub, record, oprf_key_sealed, identity_s FROM user_envelopes WHERE user_sub = $1`, userSub).
		Scan(&e.UserSub, &e.Record, &e.OPRFKeySealed, &e.IdentityS)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user envelope: %w", err)
	}
	return e, nil
}

// UpdateUserEnvelope replaces a user's envelope after a password change.
func (s *Store) UpdateUserEnvelope(ctx context.Context, userSub string, record, oprfKeySealed []byte) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE user_envelopes SET record = $2, oprf_key_sealed = $3 WHERE user_sub = $1`,
		userSub, record, oprfKeySealed)
	if err != nil {
		return fmt.Errorf("update user envelope: %w", err)
	}
	return nil
}

// CreateAdmin inserts a bootstrap or admin-created administrator with its
// OPAQUE envelope, mirroring CreateUser but in the admin namespace.
func (s *Store) CreateAdmin(ctx context.Context, email, name string, role models.AdminRole, envelope, oprfKeySealed []byte, identityS string) (*models.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create admin: %w", err)
	}
	defer tx.Rollback(ctx)

	a := &models.Admin{AdminID: uuid.NewString(), Email: email, Name: name, Role: role, CreatedAt: time.Now()}
	_, err = tx.Exec(ctx, `
		INSERT INTO admins (admin_id, email, name, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.AdminID, a.Email, a.Name, string(a.Role), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert admin: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO admin_envelopes (admin_id, record, oprf_key_sealed, identity_s)
		VALUES ($1, $2, $3, $4)`, a.AdminID, envelope, oprfKeySealed, identityS)
	if err != nil {
		return nil, fmt.Errorf("insert admin envelope: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create admin: %w", err)
	}
	return a, nil
}

// GetAdminByEmail looks up an administrator by case-insensitive email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return s.scanAdmin(ctx, `SELECT admin_id, email, name, role, created_at FROM admins WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

// GetAdminByID looks up an administrator by primary key.
func (s *Store) GetAdminByID(ctx context.Context, adminID string) (*models.Admin, error) {
	return s.scanAdmin(ctx, `SELECT admin_id, email, name, role, created_at FROM admins WHERE admin_id = $1`, adminID)
}

func (s *Store) scanAdmin(ctx context.Context, query, arg string) (*models.Admin, error) {
	a := &models.Admin{}
	var role string
	err := s.Pool.QueryRow(ctx, query, arg).Scan(&a.AdminID, &a.Email, &a.Name, &role, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan admin: %w", err)
	}
	a.Role = models.AdminRole(role)
	return a, nil
}

// GetAdminEnvelope loads the OPAQUE record for an admin login.
func (s *Store) GetAdminEnvelope(ctx context.Context, adminID string) (*models.AdminEnvelope, error) {
	e := &models.AdminEnvelope{}
	err := s.Pool.QueryRow(ctx, `
		SELECT admin_id, record, oprf_key_sealed, identity_s FROM admin_envelopes WHERE admin_id = $1`, adminID).
		Scan(&e.AdminID, &e.Record, &e.OPRFKeySealed, &e.IdentityS)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get admin envelope: %w", err)
	}
	return e, nil
}

// CountAdmins reports how many administrators exist, used to refuse
// deleting the last remaining administrator and to allow only one
// bootstrap administrator during installation.
func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// ListAdmins returns every administrator for the admin-of-admins surface.
func (s *Store) ListAdmins(ctx context.Context) ([]*models.Admin, error) {
	rows, err := s.Pool.Query(ctx, `SELECT admin_id, email, name, role, created_at FROM admins ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()
	var out []*models.Admin
	for rows.Next() {
		a := &models.Admin{}
		var role string
		if err := rows.Scan(&a.AdminID, &a.Email, &a.Name, &role, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		a.Role = models.AdminRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAdminRole changes an administrator's read/write role.
func (s *Store) UpdateAdminRole(ctx context.Context, adminID string, role models.AdminRole) error {
	_, err := s.Pool.Exec(ctx, `UPDATE admins SET role = $2 WHERE admin_id = $1`, adminID, string(role))
	if err != nil {
		return fmt.Errorf("update admin role: %w", err)
	}
	return nil
}

// DeleteAdmin removes an administrator and its envelope; callers must
// enforce the self-delete and last-admin guards before calling this.
func (s *Store) DeleteAdmin(ctx context.Context, adminID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM admins WHERE admin_id = $1`, adminID)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	return nil
}
