package store

import (
	"context"
	"fmt"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// EffectivePermissions returns the sorted union of direct user-permission
// assignments, group-reachable permissions, and role-reachable permissions
// (user -> organization-member -> role).
func (s *Store) EffectivePermissions(ctx context.Context, userSub string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT permission_key FROM user_permissions WHERE user_sub = $1
		UNION
		SELECT gp.permission_key FROM user_groups ug
			JOIN group_permissions gp ON gp.group_key = ug.group_key
			WHERE ug.user_sub = $1
		UNION
		SELECT rp.permission_key FROM organization_members om
			JOIN role_permissions rp ON rp.role_id = om.role_id
			WHERE om.user_sub = $1
		ORDER BY permission_key`, userSub)
	if err != nil {
		return nil, fmt.Errorf("resolve effective permissions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EffectiveRoleKeys returns the sorted set of role keys assigned to the user
// through any organization membership, used by the otp_required check.
func (s *Store) EffectiveRoleKeys(ctx context.Context, userSub string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT r.key FROM organization_members om
			JOIN roles r ON r.role_id = om.role_id
			WHERE om.user_sub = $1 ORDER BY r.key`, userSub)
	if err != nil {
		return nil, fmt.Errorf("resolve effective roles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan role key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UserGroups returns the groups a user belongs to, used for the
// enable_login / requireOtp OR-resolution.
func (s *Store) UserGroups(ctx context.Context, userSub string) ([]*models.Group, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT g.key, g.name, g.enable_login, g.require_otp
		FROM user_groups ug JOIN groups g ON g.key = ug.group_key
		WHERE ug.user_sub = $1`, userSub)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	var out []*models.Group
	for rows.Next() {
		g := &models.Group{}
		if err := rows.Scan(&g.Key, &g.Name, &g.EnableLogin, &g.RequireOTP); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UserOrganization returns the user's active organization (there is
// currently exactly one membership per user in this deployment model),
// or nil if unassigned.
func (s *Store) UserOrganization(ctx context.Context, userSub string) (*models.Organization, error) {
	o := &models.Organization{}
	err := s.Pool.QueryRow(ctx, `
		SELECT o.org_id, o.name, o.slug, o.force_otp
		FROM organization_members om JOIN organizations o ON o.org_id = om.org_id
		WHERE om.user_sub = $1 LIMIT 1`, userSub).
		Scan(&o.OrgID, &o.Name, &o.Slug, &o.ForceOTP)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user organization: %w", err)
	}
	return o, nil
}

// CreateGroup inserts a new group; "default" is seeded at install time.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO groups (key, name, enable_login, require_otp) VALUES ($1,$2,$3,$4)`,
		g.Key, g.Name, g.EnableLogin, g.RequireOTP)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// UpdateGroup persists mutable group fields.
func (s *Store) UpdateGroup(ctx context.Context, g *models.Group) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE groups SET name = $2, enable_login = $3, require_otp = $4 WHERE key = $1`,
		g.Key, g.Name, g.EnableLogin, g.RequireOTP)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

// GetGroup loads a single group by key.
func (s *Store) GetGroup(ctx context.Context, key string) (*models.Group, error) {
	g := &models.Group{}
	err := s.Pool.QueryRow(ctx, `SELECT key, name, enable_login, require_otp FROM groups WHERE key = $1`, key).
		Scan(&g.Key, &g.Name, &g.EnableLogin, &g.RequireOTP)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// ListGroups returns every group for the admin surface.
func (s *Store) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key, name, enable_login, require_otp FROM groups ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var out []*models.Group
	for rows.Next() {
		g := &models.Group{}
		if err := rows.Scan(&g.Key, &g.Name, &g.EnableLogin, &g.RequireOTP); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a group and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, key string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM groups WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// CreateOrganization inserts a tenant row.
func (s *Store) CreateOrganization(ctx context.Context, o *models.Organization) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO organizations (org_id, name, slug, force_otp) VALUES ($1,$2,$3,$4)`,
		o.OrgID, o.Name, o.Slug, o.ForceOTP)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// ListOrganizations returns every organization for the admin surface.
func (s *Store) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	rows, err := s.Pool.Query(ctx, `SELECT org_id, name, slug, force_otp FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var out []*models.Organization
	for rows.Next() {
		o := &models.Organization{}
		if err := rows.Scan(&o.OrgID, &o.Name, &o.Slug, &o.ForceOTP); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrganization persists mutable organization fields.
func (s *Store) UpdateOrganization(ctx context.Context, o *models.Organization) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE organizations SET name = $2, slug = $3, force_otp = $4 WHERE org_id = $1`,
		o.OrgID, o.Name, o.Slug, o.ForceOTP)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// CreateRole inserts a role; "otp_required" is a reserved system role seeded
// at install time.
func (s *Store) CreateRole(ctx context.Context, r *models.Role) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO roles (role_id, key, name, system) VALUES ($1,$2,$3,$4)`,
		r.RoleID, r.Key, r.Name, r.System)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// ListRoles returns every role for the admin surface.
func (s *Store) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := s.Pool.Query(ctx, `SELECT role_id, key, name, system FROM roles ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	var out []*models.Role
	for rows.Next() {
		r := &models.Role{}
		if err := rows.Scan(&r.RoleID, &r.Key, &r.Name, &r.System); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreatePermission registers a new permission key.
func (s *Store) CreatePermission(ctx context.Context, p *models.Permission) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO permissions (key, description) VALUES ($1,$2)`, p.Key, p.Description)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

// ListPermissions returns every registered permission key.
func (s *Store) ListPermissions(ctx context.Context) ([]*models.Permission, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key, description FROM permissions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()
	var out []*models.Permission
	for rows.Next() {
		p := &models.Permission{}
		if err := rows.Scan(&p.Key, &p.Description); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AssignUserToGroup adds a user to a group (idempotent).
func (s *Store) AssignUserToGroup(ctx context.Context, userSub, groupKey string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_groups (user_sub, group_key) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		userSub, groupKey)
	if err != nil {
		return fmt.Errorf("assign user to group: %w", err)
	}
	return nil
}

// RemoveUserFromGroup removes a user's group membership.
func (s *Store) RemoveUserFromGroup(ctx context.Context, userSub, groupKey string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM user_groups WHERE user_sub = $1 AND group_key = $2`, userSub, groupKey)
	if err != nil {
		return fmt.Errorf("remove user from group: %w", err)
	}
	return nil
}

// AssignUserToOrganizationRole sets (or replaces) a user's organization
// membership and role, modeled as a single organization_members row.
func (s *Store) AssignUserToOrganizationRole(ctx context.Context, userSub, orgID, roleID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO organization_members (user_sub, org_id, role_id) VALUES ($1,$2,$3)
		ON CONFLICT (user_sub, org_id) DO UPDATE SET role_id = EXCLUDED.role_id`,
		userSub, orgID, roleID)
	if err != nil {
		return fmt.Errorf("assign user to organization role: %w", err)
	}
	return nil
}
