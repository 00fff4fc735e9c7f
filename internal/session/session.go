// Package session issues and validates DarkAuth's server-side sessions:
// opaque random ids, sliding 15-minute expiry, rotating refresh tokens, and
// dual cookie/bearer carriage. Carriage is modeled as a Credential value
// rather than threading cookie-vs-bearer booleans through every handler;
// CSRF enforcement is a property of the cookie variant only.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/models"
)

const (
	TTL = 15 * time.Minute

	cookieUser      = "__Host-DarkAuth-User"
	cookieUserCSRF  = "__Host-DarkAuth-User-Csrf"
	cookieAdmin     = "__Host-DarkAuth-Admin"
	cookieAdminCSRF = "__Host-DarkAuth-Admin-Csrf"
)

// Store is the persistence surface a session.Service needs; internal/store
// implements it against Postgres.
type Store interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)
	TouchSession(ctx context.Context, sessionID string, expiresAt time.Time) error
	RotateSessionRefreshToken(ctx context.Context, sessionID, newRefreshToken string, expiresAt time.Time) error
	SetSessionOTPVerified(ctx context.Context, sessionID string, verified bool) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteSessionsForPrincipal(ctx context.Context, actorClass models.ActorClass, principalID string) error
}

// Service issues and validates sessions for both actor-class namespaces.
type Service struct {
	store        Store
	cookieSecure bool
}

// New constructs a session Service. cookieSecure should be true outside
// local development: cookies are __Host- prefixed and require Secure.
func New(store Store, cookieSecure bool) *Service {
	return &Service{store: store, cookieSecure: cookieSecure}
}

// Credential is the caller's authentication carriage for a request: either
// a cookie pair (subject to CSRF enforcement) or a bearer token (exempt).
type Credential struct {
	SessionID string
	CSRF      string
	IsCookie  bool
}

// Issue creates a new session row for principal after successful OPAQUE
// login or installation bootstrap.
func (s *Service) Issue(ctx context.Context, actorClass models.ActorClass, principalID, email, name string, otpRequired bool) (*models.Session, error) {
	sid, err := randomToken()
	if err != nil {
		return nil, err
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, err
	}
	refresh, err := randomToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &models.Session{
		SessionID:    sid,
		ActorClass:   actorClass,
		PrincipalID:  principalID,
		Email:        email,
		Name:         name,
		CSRFToken:    csrf,
		RefreshToken: refresh,
		OTPRequired:  otpRequired,
		OTPVerified:  !otpRequired,
		CreatedAt:    now,
		ExpiresAt:    now.Add(TTL),
		LastSeen:     now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Authenticate resolves the Credential carried by the request (bearer takes
// precedence; otherwise the actor-class cookie), loads the underlying
// session, and slides its expiry.
func (s *Service) Authenticate(ctx context.Context, c *gin.Context, actorClass models.ActorClass) (*models.Session, *Credential, error) {
	cred := extractCredential(c, actorClass)
	if cred == nil {
		return nil, nil, fmt.Errorf("no credential presented")
	}
	sess, err := s.store.GetSession(ctx, cred.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil || sess.ActorClass != actorClass {
		return nil, nil, fmt.Errorf("session not found")
	}
	if err := s.store.TouchSession(ctx, sess.SessionID, time.Now().Add(TTL)); err != nil {
		return nil, nil, err
	}
	return sess, cred, nil
}

// RequireCSRF enforces that every non-GET request carried by a
// cookie must present a matching x-csrf-token header; bearer-only calls are
// exempt.
func RequireCSRF(c *gin.Context, cred *Credential, sess *models.Session) bool {
	if !cred.IsCookie {
		return true
	}
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
		return true
	}
	header := c.GetHeader("x-csrf-token")
	return header != "" && cryptoutil.ConstantTimeEqual([]byte(header), []byte(sess.CSRFToken))
}

// Refresh rotates a session's refresh token and extends its expiry. The
// caller passes the refresh token presented at /token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	sess, err := s.store.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	newRefresh, err := randomToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(TTL)
	if err := s.store.RotateSessionRefreshToken(ctx, sess.SessionID, newRefresh, expiresAt); err != nil {
		return nil, err
	}
	sess.RefreshToken = newRefresh
	sess.ExpiresAt = expiresAt
	return sess, nil
}

// MarkOTPVerified flips a session's otp_verified flag after a successful
// TOTP or backup-code check.
func (s *Service) MarkOTPVerified(ctx context.Context, sessionID string) error {
	return s.store.SetSessionOTPVerified(ctx, sessionID, true)
}

// Revoke deletes a session (logout or refresh failure).
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// RevokeAllForPrincipal cascades revocation, used on user/admin deletion.
func (s *Service) RevokeAllForPrincipal(ctx context.Context, actorClass models.ActorClass, principalID string) error {
	return s.store.DeleteSessionsForPrincipal(ctx, actorClass, principalID)
}

// SetCookies writes the session and CSRF cookies for actorClass, using
// the __Host- naming convention.
func (s *Service) SetCookies(c *gin.Context, actorClass models.ActorClass, sess *models.Session) {
	name, csrfName := cookieNames(actorClass)
	http.SetCookie(c.Writer, &http.Cookie{
		Name: name, Value: sess.SessionID, Path: "/", HttpOnly: true,
		Secure: s.cookieSecure, SameSite: http.SameSiteStrictMode, Expires: sess.ExpiresAt,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name: csrfName, Value: sess.CSRFToken, Path: "/", HttpOnly: false,
		Secure: s.cookieSecure, SameSite: http.SameSiteStrictMode, Expires: sess.ExpiresAt,
	})
}

// ClearCookies expires both cookies for actorClass, used on logout.
func (s *Service) ClearCookies(c *gin.Context, actorClass models.ActorClass) {
	name, csrfName := cookieNames(actorClass)
	for _, n := range []string{name, csrfName} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name: n, Value: "", Path: "/", HttpOnly: true, Secure: s.cookieSecure,
			SameSite: http.SameSiteStrictMode, Expires: time.Unix(0, 0), MaxAge: -1,
		})
	}
}

func cookieNames(actorClass models.ActorClass) (session, csrf string) {
	if actorClass == models.ActorAdmin {
		return cookieAdmin, cookieAdminCSRF
	}
	return cookieUser, cookieUserCSRF
}

func extractCredential(c *gin.Context, actorClass models.ActorClass) *Credential {
	if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return &Credential{SessionID: auth[7:], IsCookie: false}
	}
	name, _ := cookieNames(actorClass)
	sidCookie, err := c.Request.Cookie(name)
	if err != nil || sidCookie.Value == "" {
		return nil
	}
	return &Credential{SessionID: sidCookie.Value, CSRF: c.GetHeader("x-csrf-token"), IsCookie: true}
}

func randomToken() (string, error) {
	b, err := cryptoutil.RandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return cryptoutil.Base64URLEncode(b), nil
}
