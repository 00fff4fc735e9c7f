// Package authz implements the authorization-code + PKCE issuance pipeline:
// /authorize validation and pending-row creation, /authorize/finalize
// binding and DRK re-wrap hand-off, and /token code exchange producing
// signed ID tokens plus opaque access/refresh tokens.
package authz

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/jwks"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/rbac"
	"github.com/puzed/darkauth-sub006/internal/session"
	"github.com/puzed/darkauth-sub006/internal/zkdrk"
)

const (
	PendingAuthTTL = 10 * time.Minute
	CodeTTL        = 60 * time.Second
)

// Store is the persistence surface authz needs.
type Store interface {
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	CreatePendingAuthorization(ctx context.Context, p *models.PendingAuthorization) error
	GetPendingAuthorization(ctx context.Context, requestID string) (*models.PendingAuthorization, error)
	BindPendingAuthorizationUser(ctx context.Context, requestID, userSub string) error
	ConsumePendingAuthorization(ctx context.Context, requestID string) (*models.PendingAuthorization, error)
	CreateAuthorizationCode(ctx context.Context, c *models.AuthorizationCode) error
	ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	GetUserBySub(ctx context.Context, sub string) (*models.User, error)
	GetWrappedDRK(ctx context.Context, userSub string) (*models.WrappedDRK, error)
}

// Pipeline drives authorization-code issuance and exchange.
type Pipeline struct {
	store  Store
	jwks   *jwks.Manager
	rbac   *rbac.Resolver
	issuer string
}

// New constructs a Pipeline.
func New(store Store, jwksManager *jwks.Manager, rbacResolver *rbac.Resolver, issuer string) *Pipeline {
	return &Pipeline{store: store, jwks: jwksManager, rbac: rbacResolver, issuer: issuer}
}

// AuthorizeRequest is the parsed query of GET /authorize.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ZKPub               []byte
	Origin              string
}

// ValidationError is an OAuth-standard error /authorize and /token emit
// (invalid_request, invalid_client, etc.).
type ValidationError struct {
	Code string
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

func valErr(code, msg string) error { return &ValidationError{Code: code, Msg: msg} }

// StartAuthorize validates an /authorize request and persists a
// pending_authorization row with TTL <= 10 min.
func (p *Pipeline) StartAuthorize(ctx context.Context, req AuthorizeRequest) (*models.PendingAuthorization, error) {
	client, err := p.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client == nil || !client.Enabled {
		return nil, valErr("invalid_client", "unknown or disabled client")
	}
	if !containsExact(client.RedirectURIs, req.RedirectURI) {
		return nil, valErr("invalid_request", "redirect_uri not in client allowlist")
	}
	if req.ResponseType != "code" {
		return nil, valErr("invalid_request", "response_type must be code")
	}
	if client.Type == models.ClientPublic || client.RequirePKCE {
		if req.CodeChallengeMethod != "S256" || req.CodeChallenge == "" {
			return nil, valErr("invalid_request", "public clients must supply code_challenge_method=S256")
		}
	}
	if !scopesAllowed(req.Scope, client.AllowedScopes) {
		return nil, valErr("invalid_scope", "requested scope exceeds client's allowed scopes")
	}

	pending := &models.PendingAuthorization{
		RequestID:           uuid.NewString(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		ResponseType:        req.ResponseType,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ZKPubJWK:            req.ZKPub,
		Origin:              req.Origin,
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(PendingAuthTTL),
	}
	if err := p.store.CreatePendingAuthorization(ctx, pending); err != nil {
		return nil, fmt.Errorf("create pending authorization: %w", err)
	}
	return pending, nil
}

// FinalizeResult is returned to the caller of /authorize/finalize.
type FinalizeResult struct {
	Code   string
	State  string
	DRKJWE string
}

// Finalize binds the authenticated user onto the pending row, evaluates the
// OTP policy, and — when the caller supplies an already client-side-computed
// drk_jwe — binds its hash into the issued code so /token can surface
// zk_drk_hash.
func (p *Pipeline) Finalize(ctx context.Context, requestID, userSub string, sess *models.Session, drkJWE []byte) (*FinalizeResult, error) {
	if sess.OTPRequired && !sess.OTPVerified {
		return nil, valErr("login_required", "otp step-up required before authorization can be finalized")
	}

	if err := p.store.BindPendingAuthorizationUser(ctx, requestID, userSub); err != nil {
		return nil, valErr("invalid_request", "pending authorization not found or expired")
	}
	pending, err := p.store.ConsumePendingAuthorization(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	if pending == nil {
		return nil, valErr("invalid_request", "pending authorization not found or expired")
	}

	if len(drkJWE) > 0 {
		if err := zkdrk.ValidateCompactJWE(drkJWE); err != nil {
			return nil, valErr("invalid_request", err.Error())
		}
	}

	code, err := cryptoutil.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	codeStr := cryptoutil.Base64URLEncode(code)
	authCode := &models.AuthorizationCode{
		Code:                codeStr,
		RequestID:           pending.RequestID,
		UserSub:             userSub,
		ClientID:            pending.ClientID,
		Scope:               pending.Scope,
		Nonce:               pending.Nonce,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(CodeTTL),
		DRKJWE:              drkJWE,
	}
	if err := p.store.CreateAuthorizationCode(ctx, authCode); err != nil {
		return nil, fmt.Errorf("create authorization code: %w", err)
	}
	return &FinalizeResult{Code: codeStr, State: pending.State, DRKJWE: string(drkJWE)}, nil
}

// IDTokenClaims is the claim set /token issues.
type IDTokenClaims struct {
	AccessToken  string
	RefreshToken string
	IDToken      []byte
	ZKDRKHash    string
	ExpiresIn    int
}

// ExchangeCode validates PKCE, consumes the code (single-use), resolves the
// user's effective roles/permissions, and signs an ID token for the
// authorization_code grant.
func (p *Pipeline) ExchangeCode(ctx context.Context, clientID, code, codeVerifier string, issueSession func(ctx context.Context, user *models.User) (*models.Session, error)) (*IDTokenClaims, error) {
	authCode, err := p.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if authCode == nil {
		return nil, valErr("invalid_grant", "authorization code is unknown, expired, or already used")
	}
	if authCode.ClientID != clientID {
		return nil, valErr("invalid_grant", "authorization code was not issued to this client")
	}

	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if authCode.CodeChallenge != "" {
		if !VerifyPKCE(codeVerifier, authCode.CodeChallenge) {
			return nil, valErr("invalid_grant", "code_verifier does not match code_challenge")
		}
	} else if client != nil && (client.Type == models.ClientPublic || client.RequirePKCE) {
		return nil, valErr("invalid_grant", "code_verifier required")
	}

	user, err := p.store.GetUserBySub(ctx, authCode.UserSub)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, valErr("invalid_grant", "user no longer exists")
	}

	sess, err := issueSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	perms, err := p.rbac.EffectivePermissions(ctx, user.Sub)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	roles, err := p.rbac.EffectiveRoles(ctx, user.Sub)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	org, err := p.rbac.Organization(ctx, user.Sub)
	if err != nil {
		return nil, fmt.Errorf("resolve organization: %w", err)
	}

	now := time.Now()
	claims := map[string]interface{}{
		"iss": p.issuer,
		"sub": user.Sub,
		"aud": clientID,
		"iat": now.Unix(),
		"exp": now.Add(session.TTL).Unix(),
		"amr": []string{"pwd"},
		"acr": "1",
	}
	if sess.OTPRequired && sess.OTPVerified {
		claims["amr"] = []string{"pwd", "otp"}
	}
	if authCode.Nonce != "" {
		claims["nonce"] = authCode.Nonce
	}
	if strings.Contains(authCode.Scope, "email") {
		claims["email"] = user.Email
	}
	if strings.Contains(authCode.Scope, "profile") {
		claims["name"] = user.Name
	}
	if len(perms) > 0 {
		claims["permissions"] = perms
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	if org != nil {
		claims["org_id"] = org.OrgID
		claims["org_slug"] = org.Slug
	}

	var zkHash string
	if len(authCode.DRKJWE) > 0 {
		zkHash = zkdrk.Hash(authCode.DRKJWE)
		claims["zk_drk_hash"] = zkHash
	}

	idToken, err := p.jwks.SignIDToken(claims)
	if err != nil {
		return nil, fmt.Errorf("sign id token: %w", err)
	}

	return &IDTokenClaims{
		AccessToken:  sess.SessionID,
		RefreshToken: sess.RefreshToken,
		IDToken:      idToken,
		ZKDRKHash:    zkHash,
		ExpiresIn:    int(session.TTL.Seconds()),
	}, nil
}

// VerifyPKCE checks SHA256(verifier) base64url-equals challenge.
func VerifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return cryptoutil.ConstantTimeEqual([]byte(cryptoutil.Base64URLEncode(sum[:])), []byte(challenge))
}

func containsExact(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func scopesAllowed(requested string, allowed []string) bool {
	if requested == "" {
		return true
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for _, s := range strings.Fields(requested) {
		if !allowedSet[s] {
			return false
		}
	}
	return true
}
