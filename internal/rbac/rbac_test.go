package rbac

import (
	"context"
	"testing"

	"github.com/puzed/darkauth-sub006/internal/models"
)

type fakeStore struct {
	perms  []string
	roles  []string
	groups []*models.Group
	org    *models.Organization
}

func (f *fakeStore) EffectivePermissions(context.Context, string) ([]string, error) {
	return f.perms, nil
}
func (f *fakeStore) EffectiveRoleKeys(context.Context, string) ([]string, error) {
	return f.roles, nil
}
func (f *fakeStore) UserGroups(context.Context, string) ([]*models.Group, error) {
	return f.groups, nil
}
func (f *fakeStore) UserOrganization(context.Context, string) (*models.Organization, error) {
	return f.org, nil
}

type fakeSettings struct{ global bool }

func (f *fakeSettings) GlobalOTPRequired(context.Context) (bool, error) { return f.global, nil }

func TestOTPRequiredIsORofFourSources(t *testing.T) {
	cases := []struct {
		name     string
		global   bool
		org      *models.Organization
		roles    []string
		groups   []*models.Group
		expected bool
	}{
		{name: "none", expected: false},
		{name: "global setting", global: true, expected: true},
		{name: "org forceOtp", org: &models.Organization{ForceOTP: true}, expected: true},
		{name: "org without forceOtp", org: &models.Organization{}, expected: false},
		{name: "otp_required role", roles: []string{"editor", "otp_required"}, expected: true},
		{name: "other roles only", roles: []string{"editor"}, expected: false},
		{name: "group requireOtp", groups: []*models.Group{{Key: "staff", RequireOTP: true}}, expected: true},
		{name: "group without requireOtp", groups: []*models.Group{{Key: "default"}}, expected: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(&fakeStore{roles: tc.roles, groups: tc.groups, org: tc.org}, &fakeSettings{global: tc.global})
			got, err := r.OTPRequired(context.Background(), "sub-1")
			if err != nil {
				t.Fatalf("otp required: %v", err)
			}
			if got != tc.expected {
				t.Fatalf("got %v want %v", got, tc.expected)
			}
		})
	}
}

func TestLoginGate(t *testing.T) {
	cases := []struct {
		name    string
		groups  []*models.Group
		allowed bool
	}{
		{name: "no groups", allowed: true},
		{name: "default enabled", groups: []*models.Group{{Key: "default", EnableLogin: true}}, allowed: true},
		{name: "all disabled", groups: []*models.Group{{Key: "default"}, {Key: "frozen"}}, allowed: false},
		{name: "one of two enabled", groups: []*models.Group{{Key: "frozen"}, {Key: "staff", EnableLogin: true}}, allowed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(&fakeStore{groups: tc.groups}, &fakeSettings{})
			got, err := r.LoginGate(context.Background(), "sub-1")
			if err != nil {
				t.Fatalf("login gate: %v", err)
			}
			if got != tc.allowed {
				t.Fatalf("got %v want %v", got, tc.allowed)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	perms := []string{"darkauth.users:read", "notes:write"}
	if !HasPermission(perms, "darkauth.users:read") {
		t.Fatalf("present permission not found")
	}
	if HasPermission(perms, "darkauth.users:write") {
		t.Fatalf("absent permission reported present")
	}
}
