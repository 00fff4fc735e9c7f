// Package models holds the persistent entities of DarkAuth's data model:
// users, admins, OPAQUE envelopes, pending authorizations, sessions,
// clients, RBAC entities, OTP enrollments, audit entries and the
// zero-knowledge DRK custody rows. These are plain data carriers; behavior
// lives in the owning service packages.
package models

import "time"

// ActorClass distinguishes the two principal namespaces DarkAuth maintains:
// end users and administrators share the OPAQUE/session machinery but never
// a namespace.
type ActorClass string

const (
	ActorUser  ActorClass = "user"
	ActorAdmin ActorClass = "admin"
)

// AdminRole gates mutating admin endpoints.
type AdminRole string

const (
	AdminRoleRead  AdminRole = "read"
	AdminRoleWrite AdminRole = "write"
)

// User is an end-user principal.
type User struct {
	Sub                   string
	Email                 string
	Name                  string
	CreatedAt             time.Time
	EmailVerified         bool
	PasswordResetRequired bool
}

// Admin is an administrator principal.
type Admin struct {
	AdminID   string
	Email     string
	Name      string
	Role      AdminRole
	CreatedAt time.Time
}

// UserEnvelope is the OPAQUE registration record for a user, keyed 1:1 by sub.
// OPRFKeySealed is the per-registration oblivious-PRF scalar, KEK-sealed,
// supplied again at every login attempt.
type UserEnvelope struct {
	UserSub       string
	Record        []byte
	OPRFKeySealed []byte
	IdentityS     string
}

// AdminEnvelope is the OPAQUE registration record for an administrator.
type AdminEnvelope struct {
	AdminID       string
	Record        []byte
	OPRFKeySealed []byte
	IdentityS     string
}

// OpaqueLoginSession is the server-held intermediate state of an in-flight
// OPAQUE login, addressed by an opaque session id and consumed exactly once.
type OpaqueLoginSession struct {
	SessionID       string
	ActorClass      ActorClass
	ServerState     []byte
	IdentityUSealed []byte
	ExpiresAt       time.Time
}

// PendingAuthorization is the server-side row tracking an in-flight
// /authorize request until authentication and consent complete.
type PendingAuthorization struct {
	RequestID           string
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ZKPubJWK            []byte
	UserSub             string
	Origin              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AuthorizationCode is a single-use code exchanged at /token for tokens.
type AuthorizationCode struct {
	Code                string
	RequestID           string
	UserSub             string
	ClientID            string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	DRKJWE              []byte
}

// Session is a server-side authenticated session, dual-carried by cookie or
// bearer token, keyed by a random 32-byte id.
type Session struct {
	SessionID    string
	ActorClass   ActorClass
	PrincipalID  string
	Email        string
	Name         string
	CSRFToken    string
	RefreshToken string
	OTPRequired  bool
	OTPVerified  bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastSeen     time.Time
}

// ClientType distinguishes public (PKCE-only) from confidential
// (client_secret_basic) OAuth clients.
type ClientType string

const (
	ClientPublic       ClientType = "public"
	ClientConfidential ClientType = "confidential"
)

// Client is a registered relying-party OAuth client.
type Client struct {
	ClientID                string
	Type                    ClientType
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	TokenEndpointAuthMethod string
	SecretSealed            []byte
	RequirePKCE             bool
	AllowedScopes           []string
	Enabled                 bool
}

// WrappedDRK is the server-opaque, client-wrapped Data Root Key blob.
type WrappedDRK struct {
	UserSub   string
	Blob      []byte
	UpdatedAt time.Time
}

// UserEncPubJWK is a user's published P-256 encryption public key, used to
// address them in zero-knowledge sharing flows.
type UserEncPubJWK struct {
	UserSub string
	JWK     []byte
}

// UserEncPrivJWK is the user's client-wrapped encryption private key,
// optionally stored for recovery; the server cannot decrypt it.
type UserEncPrivJWK struct {
	UserSub string
	Blob    []byte
}

// Permission is a free-form, colon-segmented capability key.
type Permission struct {
	Key         string
	Description string
}

// Group gates login and per-group OTP requirement; the "default" group is
// auto-assigned to new users.
type Group struct {
	Key         string
	Name        string
	EnableLogin bool
	RequireOTP  bool
}

// Organization is a tenant; exactly one "default" organization exists per
// installation.
type Organization struct {
	OrgID    string
	Name     string
	Slug     string
	ForceOTP bool
}

// Role is assignable to an org-scoped user membership; "otp_required" is a
// reserved system role.
type Role struct {
	RoleID string
	Key    string
	Name   string
	System bool
}

// OTPEnrollment is the per-principal TOTP/backup-code state machine row.
type OTPEnrollment struct {
	ActorClass   ActorClass
	PrincipalID  string
	SecretSealed []byte
	CreatedAt    time.Time
	VerifiedAt   *time.Time
	BackupHashes [][]byte
	LastUsedAt   *time.Time
	Pending      bool
}

// AuditEntry is an append-only record of a mutating operation's outcome.
type AuditEntry struct {
	ID           string
	EventType    string
	ActorClass   ActorClass
	ActorID      string
	ActorEmail   string
	ResourceType string
	ResourceID   string
	Success      bool
	IP           string
	UserAgent    string
	Timestamp    time.Time
	Details      map[string]interface{}
}

// SettingType is the declared value type of a Setting row.
type SettingType string

const (
	SettingString  SettingType = "string"
	SettingNumber  SettingType = "number"
	SettingBoolean SettingType = "boolean"
	SettingObject  SettingType = "object"
)

// Setting is one row of the typed, categorized settings store.
type Setting struct {
	Key          string
	Category     string
	Type         SettingType
	Value        string
	DefaultValue string
	Secure       bool
}
