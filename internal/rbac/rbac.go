// Package rbac resolves effective permissions and the OTP step-up policy
// from the cyclic user/group/organization/role graph. The graph is never
// built in-memory; every resolution is a joined read against internal/store.
package rbac

import (
	"context"
	"fmt"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// Store is the persistence surface rbac needs.
type Store interface {
	EffectivePermissions(ctx context.Context, userSub string) ([]string, error)
	EffectiveRoleKeys(ctx context.Context, userSub string) ([]string, error)
	UserGroups(ctx context.Context, userSub string) ([]*models.Group, error)
	UserOrganization(ctx context.Context, userSub string) (*models.Organization, error)
}

// SettingsStore is the narrow settings surface the OTP policy's global
// component needs.
type SettingsStore interface {
	GlobalOTPRequired(ctx context.Context) (bool, error)
}

const roleKeyOTPRequired = "otp_required"

// Resolver computes effective permissions and OTP requirement.
type Resolver struct {
	store    Store
	settings SettingsStore
}

// New constructs a Resolver.
func New(store Store, settings SettingsStore) *Resolver {
	return &Resolver{store: store, settings: settings}
}

// EffectivePermissions returns the sorted union of a user's direct, group,
// and role-reachable permissions.
func (r *Resolver) EffectivePermissions(ctx context.Context, userSub string) ([]string, error) {
	return r.store.EffectivePermissions(ctx, userSub)
}

// EffectiveRoles returns the role keys reachable through the user's
// organization memberships, for the id_token roles claim.
func (r *Resolver) EffectiveRoles(ctx context.Context, userSub string) ([]string, error) {
	return r.store.EffectiveRoleKeys(ctx, userSub)
}

// Organization returns the user's active organization, or nil when the user
// belongs to none.
func (r *Resolver) Organization(ctx context.Context, userSub string) (*models.Organization, error) {
	return r.store.UserOrganization(ctx, userSub)
}

// LoginGate reports whether the user's groups permit login at all. A user
// whose every group has enable_login=false is locked out entirely
// (USER_LOGIN_NOT_ALLOWED); a user in no groups is allowed, since "default"
// is auto-assigned at registration.
func (r *Resolver) LoginGate(ctx context.Context, userSub string) (bool, error) {
	groups, err := r.store.UserGroups(ctx, userSub)
	if err != nil {
		return false, fmt.Errorf("resolve login gate: %w", err)
	}
	if len(groups) == 0 {
		return true, nil
	}
	for _, g := range groups {
		if g.EnableLogin {
			return true, nil
		}
	}
	return false, nil
}

// OTPRequired is the OR of four sources: the global setting, the user's
// organization's forceOtp, any otp_required role, and any group with
// requireOtp=true.
func (r *Resolver) OTPRequired(ctx context.Context, userSub string) (bool, error) {
	global, err := r.settings.GlobalOTPRequired(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve global otp setting: %w", err)
	}
	if global {
		return true, nil
	}

	org, err := r.store.UserOrganization(ctx, userSub)
	if err != nil {
		return false, fmt.Errorf("resolve user organization: %w", err)
	}
	if org != nil && org.ForceOTP {
		return true, nil
	}

	roles, err := r.store.EffectiveRoleKeys(ctx, userSub)
	if err != nil {
		return false, fmt.Errorf("resolve effective roles: %w", err)
	}
	for _, k := range roles {
		if k == roleKeyOTPRequired {
			return true, nil
		}
	}

	groups, err := r.store.UserGroups(ctx, userSub)
	if err != nil {
		return false, fmt.Errorf("resolve user groups: %w", err)
	}
	for _, g := range groups {
		if g.RequireOTP {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether perms contains key, for handler-side
// authorization checks (e.g. darkauth.users:read).
func HasPermission(perms []string, key string) bool {
	for _, p := range perms {
		if p == key {
			return true
		}
	}
	return false
}
