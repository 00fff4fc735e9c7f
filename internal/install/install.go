// Package install implements the one-shot installation bootstrap: a
// single-use install token gates OPAQUE registration for the bootstrap
// administrator, after which defaults are provisioned and the settings
// store's installed flag flips to true.
package install

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/jwks"
	"github.com/puzed/darkauth-sub006/internal/kek"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/opaque"
	"github.com/puzed/darkauth-sub006/internal/settings"
)

// Store is the persistence surface install needs.
type Store interface {
	CreateAdmin(ctx context.Context, email, name string, role models.AdminRole, envelope, identitySealed []byte, identityS string) (*models.Admin, error)
	CreateOrganization(ctx context.Context, o *models.Organization) error
	CreateGroup(ctx context.Context, g *models.Group) error
	CreateRole(ctx context.Context, r *models.Role) error
	CountAdmins(ctx context.Context) (int, error)
}

// Bootstrap drives the install flow; it is constructed once at process
// start alongside the settings service and wired KEK.
type Bootstrap struct {
	store    Store
	settings *settings.Service
	kek      *kek.Service
	jwks     *jwks.Manager
	token    string
}

// New constructs a Bootstrap gated by token, the single-use install secret
// an operator supplies out of band.
func New(store Store, settingsSvc *settings.Service, kekSvc *kek.Service, jwksManager *jwks.Manager, token string) *Bootstrap {
	return &Bootstrap{store: store, settings: settingsSvc, kek: kekSvc, jwks: jwksManager, token: token}
}

// CheckToken reports whether the caller presented the valid install token,
// in constant time.
func (b *Bootstrap) CheckToken(candidate string) bool {
	return b.token != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(b.token)) == 1
}

// Installable reports whether the server is still in bootstrap mode.
func (b *Bootstrap) Installable(ctx context.Context) (bool, error) {
	installed, err := b.settings.Installed(ctx)
	if err != nil {
		return false, err
	}
	return !installed, nil
}

// RegisterAdmin persists the bootstrap administrator (email, name, and an
// already-completed RegistrationRecord from the client). It succeeds only
// while the server is installable and no administrator exists yet; seeding
// the defaults and marking installation complete is left to Complete.
func (b *Bootstrap) RegisterAdmin(ctx context.Context, email, name string, record *opaque.RegistrationRecord, identitySealed []byte) error {
	installable, err := b.Installable(ctx)
	if err != nil {
		return err
	}
	if !installable {
		return fmt.Errorf("installation already completed")
	}
	count, err := b.store.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("bootstrap administrator already registered")
	}

	envelopeBytes := record.Marshal()
	if _, err := b.store.CreateAdmin(ctx, email, name, models.AdminRoleWrite, envelopeBytes, identitySealed, "DarkAuth"); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	return nil
}

// Complete provisions the default organization/group/role, ensures a
// signing key exists, and flips the installed flag; token is single-use in
// that once installed=true, Installable always returns false regardless of
// token validity.
func (b *Bootstrap) Complete(ctx context.Context) error {
	installable, err := b.Installable(ctx)
	if err != nil {
		return err
	}
	if !installable {
		return fmt.Errorf("installation already completed")
	}

	if err := b.store.CreateOrganization(ctx, &models.Organization{
		OrgID: uuid.NewString(), Name: "Default", Slug: "default", ForceOTP: false,
	}); err != nil {
		return fmt.Errorf("seed default organization: %w", err)
	}
	if err := b.store.CreateGroup(ctx, &models.Group{
		Key: "default", Name: "Default", EnableLogin: true, RequireOTP: false,
	}); err != nil {
		return fmt.Errorf("seed default group: %w", err)
	}
	if err := b.store.CreateRole(ctx, &models.Role{
		RoleID: uuid.NewString(), Key: "otp_required", Name: "OTP Required", System: true,
	}); err != nil {
		return fmt.Errorf("seed otp_required role: %w", err)
	}

	if _, err := b.jwks.Current(); err != nil {
		if _, rotErr := b.jwks.Rotate(ctx); rotErr != nil {
			return fmt.Errorf("generate first signing key: %w", rotErr)
		}
	}

	if err := b.settings.MarkInstalled(ctx); err != nil {
		return fmt.Errorf("mark installed: %w", err)
	}
	return nil
}
