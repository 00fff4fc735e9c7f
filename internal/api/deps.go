// Package api wires DarkAuth's two gin HTTP surfaces (user-facing and
// admin-facing) on top of the service packages: one file per resource, a
// shared Dependencies bag threaded through every setup function.
package api

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/authz"
	"github.com/puzed/darkauth-sub006/internal/config"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/install"
	"github.com/puzed/darkauth-sub006/internal/jwks"
	"github.com/puzed/darkauth-sub006/internal/kek"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/opaque"
	"github.com/puzed/darkauth-sub006/internal/ratelimit"
	"github.com/puzed/darkauth-sub006/internal/rbac"
	"github.com/puzed/darkauth-sub006/internal/session"
	"github.com/puzed/darkauth-sub006/internal/settings"
	"github.com/puzed/darkauth-sub006/internal/store"
)

// Store is the full persistence surface the API handlers need, satisfied by
// *store.Store; expressed narrowly here so handlers can be tested against a
// fake.
type Store interface {
	authz.Store
	session.Store
	rbac.Store
	install.Store

	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserBySub(ctx context.Context, sub string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	DeleteUser(ctx context.Context, sub string) error
	GetUserEnvelope(ctx context.Context, userSub string) (*models.UserEnvelope, error)
	UpdateUserEnvelope(ctx context.Context, userSub string, record, oprfKeySealed []byte) error
	CreateUser(ctx context.Context, email, name string, envelope, oprfKeySealed []byte, identityS string) (*models.User, error)

	GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	GetAdminByID(ctx context.Context, adminID string) (*models.Admin, error)
	GetAdminEnvelope(ctx context.Context, adminID string) (*models.AdminEnvelope, error)
	ListAdmins(ctx context.Context) ([]*models.Admin, error)
	UpdateAdminRole(ctx context.Context, adminID string, role models.AdminRole) error
	DeleteAdmin(ctx context.Context, adminID string) error

	CreateOpaqueLoginSession(ctx context.Context, sess *models.OpaqueLoginSession) error
	ConsumeOpaqueLoginSession(ctx context.Context, sessionID string) (*models.OpaqueLoginSession, error)

	PutWrappedDRK(ctx context.Context, userSub string, blob []byte) error
	GetWrappedDRK(ctx context.Context, userSub string) (*models.WrappedDRK, error)
	PutUserEncPubJWK(ctx context.Context, userSub string, jwkBytes []byte) error
	GetUserEncPubJWK(ctx context.Context, userSub string) (*models.UserEncPubJWK, error)
	PutUserEncPrivJWK(ctx context.Context, userSub string, blob []byte) error
	GetUserEncPrivJWK(ctx context.Context, userSub string) (*models.UserEncPrivJWK, error)

	GetOTPEnrollment(ctx context.Context, actorClass models.ActorClass, principalID string) (*models.OTPEnrollment, error)
	UpsertOTPEnrollment(ctx context.Context, e *models.OTPEnrollment) error
	ConsumeBackupCode(ctx context.Context, actorClass models.ActorClass, principalID string, hash []byte) (bool, error)
	DeleteOTPEnrollment(ctx context.Context, actorClass models.ActorClass, principalID string) error

	ListClients(ctx context.Context) ([]*models.Client, error)
	CreateClient(ctx context.Context, c *models.Client) error
	UpdateClient(ctx context.Context, c *models.Client) error
	DeleteClient(ctx context.Context, clientID string) error

	CreateGroup(ctx context.Context, g *models.Group) error
	UpdateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, key string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	DeleteGroup(ctx context.Context, key string) error
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	UpdateOrganization(ctx context.Context, o *models.Organization) error
	ListRoles(ctx context.Context) ([]*models.Role, error)
	CreatePermission(ctx context.Context, p *models.Permission) error
	ListPermissions(ctx context.Context) ([]*models.Permission, error)
	AssignUserToGroup(ctx context.Context, userSub, groupKey string) error
	RemoveUserFromGroup(ctx context.Context, userSub, groupKey string) error
	AssignUserToOrganizationRole(ctx context.Context, userSub, orgID, roleID string) error

	ListAuditEntries(ctx context.Context, f store.AuditListFilter) ([]*models.AuditEntry, error)
	GetAuditEntry(ctx context.Context, id string) (*models.AuditEntry, error)

	ListSettings(ctx context.Context, includeSecure bool) ([]*models.Setting, error)
	DescribeSetting(ctx context.Context, key string) (*models.Setting, error)
	UpsertSettingTyped(ctx context.Context, st *models.Setting) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Dependencies bundles every service the handlers need, constructed once at
// process start (cmd/darkauth/main.go) and shared by both gin engines.
type Dependencies struct {
	Config    *config.Config
	Store     Store
	KEK       *kek.Service
	JWKS      *jwks.Manager
	Settings  *settings.Service
	Sessions  *session.Service
	RBAC      *rbac.Resolver
	Audit     *audit.Logger
	RateLimit *ratelimit.Limiter
	Authz     *authz.Pipeline
	Install   *install.Bootstrap
	Log       *zap.SugaredLogger

	staticKeyMu sync.Mutex
	staticKey   *opaque.ServerStaticKeyPair
}

const (
	otpIdentityAAD      = "opaque:identity"
	clientSecretAAD     = "client:secret"
	opaqueOPRFKeyAAD    = "opaque:oprf-key"
	opaqueLoginStateAAD = "opaque:login:state"
	opaqueLoginEmailAAD = "opaque:login:identity"
	opaqueStaticKeyAAD  = "opaque:server-static-key"

	settingServerStaticKeySealed = "opaque.server_static_key_sealed"
)

func opaqueLoginSessionTTL() time.Duration { return 2 * time.Minute }

func timeNowAdd(d time.Duration) time.Time { return time.Now().Add(d) }

// serverStaticKeyPair lazily loads the server-wide OPAQUE static keypair from
// the settings store, generating and sealing one on first use. Every
// registration envelope binds to this key, so it must be stable for the
// lifetime of the deployment's database.
func (d *Dependencies) serverStaticKeyPair(ctx context.Context) (*opaque.ServerStaticKeyPair, error) {
	d.staticKeyMu.Lock()
	defer d.staticKeyMu.Unlock()
	if d.staticKey != nil {
		return d.staticKey, nil
	}

	sealedB64, ok, err := d.Store.GetSetting(ctx, settingServerStaticKeySealed)
	if err != nil {
		return nil, fmt.Errorf("load server static key setting: %w", err)
	}
	if ok {
		sealed, err := cryptoutil.Base64URLDecode(sealedB64)
		if err != nil {
			return nil, fmt.Errorf("decode sealed server static key: %w", err)
		}
		raw, err := d.KEK.Decrypt(sealed, []byte(opaqueStaticKeyAAD))
		if err != nil {
			return nil, fmt.Errorf("unseal server static key: %w", err)
		}
		priv, err := ecdh.P256().NewPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("reconstruct server static key: %w", err)
		}
		d.staticKey = &opaque.ServerStaticKeyPair{Private: priv}
		return d.staticKey, nil
	}

	static, err := opaque.NewServerStaticKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate server static key: %w", err)
	}
	sealed, err := d.KEK.Encrypt(static.Private.Bytes(), []byte(opaqueStaticKeyAAD))
	if err != nil {
		return nil, fmt.Errorf("seal server static key: %w", err)
	}
	if err := d.Store.PutSetting(ctx, settingServerStaticKeySealed, cryptoutil.Base64URLEncode(sealed)); err != nil {
		return nil, fmt.Errorf("persist server static key: %w", err)
	}
	d.staticKey = static
	return d.staticKey, nil
}
