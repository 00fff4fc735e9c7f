package authz

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/stretchr/testify/require"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/jwks"
	"github.com/puzed/darkauth-sub006/internal/kek"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/rbac"
	"github.com/puzed/darkauth-sub006/internal/zkdrk"
)

type fakeStore struct {
	clients map[string]*models.Client
	pending map[string]*models.PendingAuthorization
	codes   map[string]*models.AuthorizationCode
	users   map[string]*models.User
	drk     map[string]*models.WrappedDRK
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: make(map[string]*models.Client),
		pending: make(map[string]*models.PendingAuthorization),
		codes:   make(map[string]*models.AuthorizationCode),
		users:   make(map[string]*models.User),
		drk:     make(map[string]*models.WrappedDRK),
	}
}

func (f *fakeStore) GetClient(_ context.Context, id string) (*models.Client, error) {
	return f.clients[id], nil
}

func (f *fakeStore) CreatePendingAuthorization(_ context.Context, p *models.PendingAuthorization) error {
	cp := *p
	f.pending[p.RequestID] = &cp
	return nil
}

func (f *fakeStore) GetPendingAuthorization(_ context.Context, id string) (*models.PendingAuthorization, error) {
	p, ok := f.pending[id]
	if !ok || time.Now().After(p.ExpiresAt) {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) BindPendingAuthorizationUser(_ context.Context, id, userSub string) error {
	p, ok := f.pending[id]
	if !ok || time.Now().After(p.ExpiresAt) {
		return errors.New("pending authorization not found")
	}
	p.UserSub = userSub
	return nil
}

func (f *fakeStore) ConsumePendingAuthorization(_ context.Context, id string) (*models.PendingAuthorization, error) {
	p, ok := f.pending[id]
	if !ok || time.Now().After(p.ExpiresAt) {
		delete(f.pending, id)
		return nil, nil
	}
	delete(f.pending, id)
	cp := *p
	return &cp, nil
}

func (f *fakeStore) CreateAuthorizationCode(_ context.Context, c *models.AuthorizationCode) error {
	cp := *c
	f.codes[c.Code] = &cp
	return nil
}

func (f *fakeStore) ConsumeAuthorizationCode(_ context.Context, code string) (*models.AuthorizationCode, error) {
	c, ok := f.codes[code]
	delete(f.codes, code)
	if !ok || time.Now().After(c.ExpiresAt) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetUserBySub(_ context.Context, sub string) (*models.User, error) {
	return f.users[sub], nil
}

func (f *fakeStore) GetWrappedDRK(_ context.Context, userSub string) (*models.WrappedDRK, error) {
	return f.drk[userSub], nil
}

type fakeRBACStore struct {
	perms []string
	roles []string
	org   *models.Organization
}

func (f *fakeRBACStore) EffectivePermissions(context.Context, string) ([]string, error) {
	return f.perms, nil
}
func (f *fakeRBACStore) EffectiveRoleKeys(context.Context, string) ([]string, error) {
	return f.roles, nil
}
func (f *fakeRBACStore) UserGroups(context.Context, string) ([]*models.Group, error) {
	return nil, nil
}
func (f *fakeRBACStore) UserOrganization(context.Context, string) (*models.Organization, error) {
	return f.org, nil
}

type fakeSettings struct{}

func (fakeSettings) GlobalOTPRequired(context.Context) (bool, error) { return false, nil }

type memKeyStore struct {
	keys map[string]*jwks.SigningKey
}

func (m *memKeyStore) ListSigningKeys(context.Context) ([]*jwks.SigningKey, error) {
	out := make([]*jwks.SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memKeyStore) InsertSigningKey(_ context.Context, key *jwks.SigningKey, _ []byte) error {
	cp := *key
	m.keys[key.KID] = &cp
	return nil
}

func (m *memKeyStore) UpdateSigningKeyStatus(_ context.Context, kid string, status jwks.KeyStatus, retiredAt time.Time) error {
	if k, ok := m.keys[kid]; ok {
		k.Status = status
		k.RetiredAt = retiredAt
	}
	return nil
}

const testIssuer = "https://auth.example.com"

func newTestPipeline(t *testing.T, store *fakeStore, rbacStore *fakeRBACStore) *Pipeline {
	t.Helper()
	salt, err := kek.NewSalt()
	require.NoError(t, err)
	kekSvc, err := kek.New("test-passphrase", salt)
	require.NoError(t, err)
	manager, err := jwks.NewManager(context.Background(), &memKeyStore{keys: make(map[string]*jwks.SigningKey)}, kekSvc)
	require.NoError(t, err)
	return New(store, manager, rbac.New(rbacStore, fakeSettings{}), testIssuer)
}

func publicClient() *models.Client {
	return &models.Client{
		ClientID:      "notes-app",
		Type:          models.ClientPublic,
		Name:          "Encrypted Notes",
		RedirectURIs:  []string{"https://notes.example.com/callback"},
		RequirePKCE:   true,
		AllowedScopes: []string{"openid", "profile", "email"},
		Enabled:       true,
	}
}

func pkcePair() (verifier, challenge string) {
	verifier = "test-verifier-string-with-plenty-of-entropy"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, cryptoutil.Base64URLEncode(sum[:])
}

func baseRequest(challenge string) AuthorizeRequest {
	return AuthorizeRequest{
		ClientID:            "notes-app",
		RedirectURI:         "https://notes.example.com/callback",
		ResponseType:        "code",
		Scope:               "openid email",
		State:               "client-state",
		Nonce:               "client-nonce",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}
}

func requireOAuthCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, code, ve.Code)
}

func TestStartAuthorizeValidation(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	p := newTestPipeline(t, store, &fakeRBACStore{})
	_, challenge := pkcePair()

	t.Run("unknown client", func(t *testing.T) {
		req := baseRequest(challenge)
		req.ClientID = "nobody"
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_client")
	})

	t.Run("disabled client", func(t *testing.T) {
		disabled := publicClient()
		disabled.ClientID = "disabled-app"
		disabled.Enabled = false
		store.clients["disabled-app"] = disabled
		req := baseRequest(challenge)
		req.ClientID = "disabled-app"
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_client")
	})

	t.Run("redirect uri not allowlisted", func(t *testing.T) {
		req := baseRequest(challenge)
		req.RedirectURI = "https://notes.example.com/callback/" // trailing slash differs
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_request")
	})

	t.Run("wrong response type", func(t *testing.T) {
		req := baseRequest(challenge)
		req.ResponseType = "token"
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_request")
	})

	t.Run("public client without pkce", func(t *testing.T) {
		req := baseRequest(challenge)
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_request")
	})

	t.Run("plain challenge method rejected", func(t *testing.T) {
		req := baseRequest(challenge)
		req.CodeChallengeMethod = "plain"
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_request")
	})

	t.Run("scope outside allowlist", func(t *testing.T) {
		req := baseRequest(challenge)
		req.Scope = "openid admin:everything"
		_, err := p.StartAuthorize(context.Background(), req)
		requireOAuthCode(t, err, "invalid_scope")
	})

	t.Run("valid request creates pending row", func(t *testing.T) {
		pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
		require.NoError(t, err)
		require.NotEmpty(t, pending.RequestID)
		require.Equal(t, "client-state", pending.State)
		require.WithinDuration(t, time.Now().Add(PendingAuthTTL), pending.ExpiresAt, time.Second)
		require.Contains(t, store.pending, pending.RequestID)
	})
}

func verifiedSession() *models.Session {
	return &models.Session{SessionID: "sess-1", OTPRequired: false, OTPVerified: true}
}

func issueTestSession(sess *models.Session) func(context.Context, *models.User) (*models.Session, error) {
	return func(context.Context, *models.User) (*models.Session, error) {
		return sess, nil
	}
}

func TestFullCodeFlowAndSingleUse(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	store.users["user-1"] = &models.User{Sub: "user-1", Email: "victim@example.com", Name: "Victim"}
	rbacStore := &fakeRBACStore{
		perms: []string{"darkauth.users:read"},
		roles: []string{"member"},
		org:   &models.Organization{OrgID: "org-1", Slug: "default"},
	}
	p := newTestPipeline(t, store, rbacStore)
	verifier, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)

	result, err := p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), nil)
	require.NoError(t, err)
	require.Equal(t, "client-state", result.State)
	require.Len(t, result.Code, 43)

	// The pending row is consumed by finalize.
	require.NotContains(t, store.pending, pending.RequestID)

	exchangedSess := &models.Session{
		SessionID:    "access-session",
		RefreshToken: "refresh-token",
		OTPVerified:  true,
	}
	claims, err := p.ExchangeCode(context.Background(), "notes-app", result.Code, verifier, issueTestSession(exchangedSess))
	require.NoError(t, err)
	require.Equal(t, "access-session", claims.AccessToken)
	require.Equal(t, "refresh-token", claims.RefreshToken)

	payload, err := jws.Verify(claims.IDToken, jws.WithKey(jwa.EdDSA(), currentPublicKey(t, p)))
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &parsed))
	require.Equal(t, testIssuer, parsed["iss"])
	require.Equal(t, "user-1", parsed["sub"])
	require.Equal(t, "notes-app", parsed["aud"])
	require.Equal(t, "client-nonce", parsed["nonce"])
	require.Equal(t, "victim@example.com", parsed["email"])
	require.Equal(t, "org-1", parsed["org_id"])
	require.Equal(t, "default", parsed["org_slug"])
	require.Contains(t, parsed["permissions"], "darkauth.users:read")
	require.Contains(t, parsed["roles"], "member")

	// Second exchange of the same code is refused and issues nothing.
	_, err = p.ExchangeCode(context.Background(), "notes-app", result.Code, verifier, issueTestSession(exchangedSess))
	requireOAuthCode(t, err, "invalid_grant")
}

func currentPublicKey(t *testing.T, p *Pipeline) interface{} {
	t.Helper()
	current, err := p.jwks.Current()
	require.NoError(t, err)
	return current.PublicKey
}

func TestExchangeCodeRejectsPKCEMismatch(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	store.users["user-1"] = &models.User{Sub: "user-1", Email: "u@example.com"}
	p := newTestPipeline(t, store, &fakeRBACStore{})
	_, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)
	result, err := p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), nil)
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "notes-app", result.Code, "a-different-verifier", issueTestSession(verifiedSession()))
	requireOAuthCode(t, err, "invalid_grant")
}

func TestExchangeCodeRejectsWrongClient(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	other := publicClient()
	other.ClientID = "other-app"
	store.clients["other-app"] = other
	store.users["user-1"] = &models.User{Sub: "user-1"}
	p := newTestPipeline(t, store, &fakeRBACStore{})
	verifier, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)
	result, err := p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), nil)
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "other-app", result.Code, verifier, issueTestSession(verifiedSession()))
	requireOAuthCode(t, err, "invalid_grant")
}

func TestFinalizeRequiresOTPStepUp(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	p := newTestPipeline(t, store, &fakeRBACStore{})
	_, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)

	gated := &models.Session{SessionID: "sess-1", OTPRequired: true, OTPVerified: false}
	_, err = p.Finalize(context.Background(), pending.RequestID, "user-1", gated, nil)
	requireOAuthCode(t, err, "login_required")

	// The pending row survives so the flow can resume after step-up.
	require.Contains(t, store.pending, pending.RequestID)
}

func TestFinalizeExpiredPendingAuthorization(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	p := newTestPipeline(t, store, &fakeRBACStore{})
	_, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)
	store.pending[pending.RequestID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err = p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), nil)
	requireOAuthCode(t, err, "invalid_request")
}

func TestDRKHashBinding(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	store.users["user-1"] = &models.User{Sub: "user-1", Email: "u@example.com"}
	p := newTestPipeline(t, store, &fakeRBACStore{})
	verifier, challenge := pkcePair()

	ephemeral, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	drkJWE, err := jwe.Encrypt([]byte("wrapped drk bytes"),
		jwe.WithKey(jwa.ECDH_ES(), ephemeral.Public()),
		jwe.WithContentEncryption(jwa.A256GCM()))
	require.NoError(t, err)

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)
	result, err := p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), drkJWE)
	require.NoError(t, err)
	require.Equal(t, string(drkJWE), result.DRKJWE)

	claims, err := p.ExchangeCode(context.Background(), "notes-app", result.Code, verifier, issueTestSession(verifiedSession()))
	require.NoError(t, err)
	require.Equal(t, zkdrk.Hash(drkJWE), claims.ZKDRKHash)

	payload, err := jws.Verify(claims.IDToken, jws.WithKey(jwa.EdDSA(), currentPublicKey(t, p)))
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &parsed))
	require.Equal(t, zkdrk.Hash(drkJWE), parsed["zk_drk_hash"])
}

func TestFinalizeRejectsMalformedDRKJWE(t *testing.T) {
	store := newFakeStore()
	store.clients["notes-app"] = publicClient()
	p := newTestPipeline(t, store, &fakeRBACStore{})
	_, challenge := pkcePair()

	pending, err := p.StartAuthorize(context.Background(), baseRequest(challenge))
	require.NoError(t, err)
	_, err = p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), []byte("not-a-jwe"))
	requireOAuthCode(t, err, "invalid_request")
}

func TestVerifyPKCE(t *testing.T) {
	verifier, challenge := pkcePair()
	require.True(t, VerifyPKCE(verifier, challenge))
	require.False(t, VerifyPKCE("wrong", challenge))
	require.False(t, VerifyPKCE("", challenge))
	require.False(t, VerifyPKCE(verifier, ""))
}

func TestConfidentialClientMayOmitPKCE(t *testing.T) {
	store := newFakeStore()
	store.clients["backend-app"] = &models.Client{
		ClientID:      "backend-app",
		Type:          models.ClientConfidential,
		RedirectURIs:  []string{"https://backend.example.com/cb"},
		AllowedScopes: []string{"openid"},
		Enabled:       true,
	}
	store.users["user-1"] = &models.User{Sub: "user-1"}
	p := newTestPipeline(t, store, &fakeRBACStore{})

	pending, err := p.StartAuthorize(context.Background(), AuthorizeRequest{
		ClientID:     "backend-app",
		RedirectURI:  "https://backend.example.com/cb",
		ResponseType: "code",
		Scope:        "openid",
	})
	require.NoError(t, err)

	result, err := p.Finalize(context.Background(), pending.RequestID, "user-1", verifiedSession(), nil)
	require.NoError(t, err)

	claims, err := p.ExchangeCode(context.Background(), "backend-app", result.Code, "", issueTestSession(verifiedSession()))
	require.NoError(t, err)
	require.NotEmpty(t, claims.IDToken)
}
