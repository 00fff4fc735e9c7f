package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/puzed/darkauth-sub006/internal/models"
)

type fakeStore struct {
	sessions map[string]*models.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.Session)}
}

func (f *fakeStore) CreateSession(_ context.Context, s *models.Session) error {
	cp := *s
	f.sessions[s.SessionID] = &cp
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetSessionByRefreshToken(_ context.Context, token string) (*models.Session, error) {
	for _, s := range f.sessions {
		if s.RefreshToken == token && time.Now().Before(s.ExpiresAt) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) TouchSession(_ context.Context, id string, expiresAt time.Time) error {
	if s, ok := f.sessions[id]; ok {
		s.ExpiresAt = expiresAt
		s.LastSeen = time.Now()
	}
	return nil
}

func (f *fakeStore) RotateSessionRefreshToken(_ context.Context, id, newToken string, expiresAt time.Time) error {
	if s, ok := f.sessions[id]; ok {
		s.RefreshToken = newToken
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeStore) SetSessionOTPVerified(_ context.Context, id string, verified bool) error {
	if s, ok := f.sessions[id]; ok {
		s.OTPVerified = verified
	}
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) DeleteSessionsForPrincipal(_ context.Context, actorClass models.ActorClass, principalID string) error {
	for id, s := range f.sessions {
		if s.ActorClass == actorClass && s.PrincipalID == principalID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func testContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func TestIssueFillsTokensAndExpiry(t *testing.T) {
	svc := New(newFakeStore(), true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)
	require.Len(t, sess.SessionID, 43)
	require.Len(t, sess.CSRFToken, 43)
	require.Len(t, sess.RefreshToken, 43)
	require.True(t, sess.OTPVerified, "otp not required means verified from the start")
	require.WithinDuration(t, time.Now().Add(TTL), sess.ExpiresAt, time.Second)
}

func TestIssueOTPRequiredStartsUnverified(t *testing.T) {
	svc := New(newFakeStore(), true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", true)
	require.NoError(t, err)
	require.True(t, sess.OTPRequired)
	require.False(t, sess.OTPVerified)
}

func TestAuthenticateBearerSlidesExpiry(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)

	store.sessions[sess.SessionID].ExpiresAt = time.Now().Add(time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+sess.SessionID)
	c, _ := testContext(req)

	got, cred, err := svc.Authenticate(context.Background(), c, models.ActorUser)
	require.NoError(t, err)
	require.Equal(t, sess.SessionID, got.SessionID)
	require.False(t, cred.IsCookie)
	require.WithinDuration(t, time.Now().Add(TTL), store.sessions[sess.SessionID].ExpiresAt, time.Second)
}

func TestAuthenticateCookieCarriage(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	sess, err := svc.Issue(context.Background(), models.ActorAdmin, "adm-1", "a@example.com", "A", false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: "__Host-DarkAuth-Admin", Value: sess.SessionID})
	c, _ := testContext(req)

	got, cred, err := svc.Authenticate(context.Background(), c, models.ActorAdmin)
	require.NoError(t, err)
	require.Equal(t, sess.SessionID, got.SessionID)
	require.True(t, cred.IsCookie)
}

func TestAuthenticateRejectsCrossNamespaceSession(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+sess.SessionID)
	c, _ := testContext(req)

	_, _, err = svc.Authenticate(context.Background(), c, models.ActorAdmin)
	require.Error(t, err, "user session must not authenticate on the admin surface")
}

func TestRequireCSRF(t *testing.T) {
	sess := &models.Session{CSRFToken: "csrf-token-value"}

	post := httptest.NewRequest(http.MethodPost, "/logout", nil)
	c, _ := testContext(post)
	require.False(t, RequireCSRF(c, &Credential{IsCookie: true}, sess),
		"cookie POST without header must fail")

	post = httptest.NewRequest(http.MethodPost, "/logout", nil)
	post.Header.Set("x-csrf-token", "csrf-token-value")
	c, _ = testContext(post)
	require.True(t, RequireCSRF(c, &Credential{IsCookie: true}, sess))

	post = httptest.NewRequest(http.MethodPost, "/logout", nil)
	post.Header.Set("x-csrf-token", "wrong")
	c, _ = testContext(post)
	require.False(t, RequireCSRF(c, &Credential{IsCookie: true}, sess))

	get := httptest.NewRequest(http.MethodGet, "/session", nil)
	c, _ = testContext(get)
	require.True(t, RequireCSRF(c, &Credential{IsCookie: true}, sess),
		"GET is exempt")

	post = httptest.NewRequest(http.MethodPost, "/logout", nil)
	c, _ = testContext(post)
	require.True(t, RequireCSRF(c, &Credential{IsCookie: false}, sess),
		"bearer carriage is exempt")
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)
	oldRefresh := sess.RefreshToken

	refreshed, err := svc.Refresh(context.Background(), oldRefresh)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	require.NotEqual(t, oldRefresh, refreshed.RefreshToken)

	// The consumed token is gone; presenting it again resolves nothing.
	again, err := svc.Refresh(context.Background(), oldRefresh)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestRefreshUnknownTokenReturnsNil(t *testing.T) {
	svc := New(newFakeStore(), true)
	sess, err := svc.Refresh(context.Background(), "never-issued")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestRevokeDeletesSession(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), sess.SessionID))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+sess.SessionID)
	c, _ := testContext(req)
	_, _, err = svc.Authenticate(context.Background(), c, models.ActorUser)
	require.Error(t, err)
}

func TestRevokeAllForPrincipalCascades(t *testing.T) {
	store := newFakeStore()
	svc := New(store, true)
	for i := 0; i < 3; i++ {
		_, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
		require.NoError(t, err)
	}
	other, err := svc.Issue(context.Background(), models.ActorUser, "sub-2", "o@example.com", "O", false)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllForPrincipal(context.Background(), models.ActorUser, "sub-1"))
	require.Len(t, store.sessions, 1)
	require.Contains(t, store.sessions, other.SessionID)
}

func TestSetCookiesUsesHostPrefix(t *testing.T) {
	svc := New(newFakeStore(), true)
	sess, err := svc.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/opaque/login/finish", nil)
	c, w := testContext(req)
	svc.SetCookies(c, models.ActorUser, sess)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	byName := map[string]*http.Cookie{}
	for _, ck := range cookies {
		byName[ck.Name] = ck
	}
	sid := byName["__Host-DarkAuth-User"]
	require.NotNil(t, sid)
	require.True(t, sid.HttpOnly)
	require.True(t, sid.Secure)
	require.Equal(t, http.SameSiteStrictMode, sid.SameSite)
	require.Equal(t, sess.SessionID, sid.Value)

	csrf := byName["__Host-DarkAuth-User-Csrf"]
	require.NotNil(t, csrf)
	require.False(t, csrf.HttpOnly, "csrf cookie must be readable by the client app")
	require.Equal(t, sess.CSRFToken, csrf.Value)
}
