package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/ratelimit"
	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/session"
	"github.com/puzed/darkauth-sub006/internal/settings"
)

type fakeSessionStore struct {
	sessions map[string]*models.Session
}

func (f *fakeSessionStore) CreateSession(_ context.Context, s *models.Session) error {
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeSessionStore) GetSessionByRefreshToken(_ context.Context, token string) (*models.Session, error) {
	for _, s := range f.sessions {
		if s.RefreshToken == token {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) TouchSession(context.Context, string, time.Time) error { return nil }

func (f *fakeSessionStore) RotateSessionRefreshToken(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeSessionStore) SetSessionOTPVerified(_ context.Context, id string, verified bool) error {
	if s, ok := f.sessions[id]; ok {
		s.OTPVerified = verified
	}
	return nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) DeleteSessionsForPrincipal(context.Context, models.ActorClass, string) error {
	return nil
}

// newGuardedEngine wires requireSession + requireCSRF in front of a trivial
// mutating handler, the same chain the real routers install.
func newGuardedEngine(t *testing.T) (*gin.Engine, *models.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &fakeSessionStore{sessions: make(map[string]*models.Session)}
	d := &Dependencies{Sessions: session.New(store, true)}

	sess, err := d.Sessions.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/mutate", d.requireSession(models.ActorUser), d.requireCSRF(), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"done": true})
	})
	return r, sess
}

func TestGuardedRouteRejectsAnonymousCaller(t *testing.T) {
	r, _ := newGuardedEngine(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mutate", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuardedRouteAcceptsBearerWithoutCSRF(t *testing.T) {
	r, sess := newGuardedEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set("Authorization", "Bearer "+sess.SessionID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGuardedRouteRejectsCookieWithoutCSRFHeader(t *testing.T) {
	r, sess := newGuardedEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: "__Host-DarkAuth-User", Value: sess.SessionID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "csrf_failed")
}

func TestGuardedRouteAcceptsCookieWithCSRFHeader(t *testing.T) {
	r, sess := newGuardedEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: "__Host-DarkAuth-User", Value: sess.SessionID})
	req.Header.Set("x-csrf-token", sess.CSRFToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitedRouteReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := &Dependencies{RateLimit: ratelimit.New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 2, RatePerSecond: 0.0001},
	})}

	r := gin.New()
	r.POST("/limited", d.rateLimited("opaque", nil), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"ok": true})
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/limited", nil)
		req.RemoteAddr = "10.1.2.3:55555"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, http.StatusOK, codes[0])
	require.Equal(t, http.StatusOK, codes[1])
	require.Equal(t, http.StatusTooManyRequests, codes[2])
	require.Equal(t, http.StatusTooManyRequests, codes[3])

	var body strings.Builder
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.RemoteAddr = "10.1.2.3:55555"
	r.ServeHTTP(w, req)
	body.WriteString(w.Body.String())
	require.Contains(t, body.String(), "rate_limited")
}

// newOTPGatedEngine mirrors the real routers: the /otp group installs only
// requireSession, everything else adds requireOTPSatisfied.
func newOTPGatedEngine(t *testing.T) (*gin.Engine, *session.Service, *models.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &fakeSessionStore{sessions: make(map[string]*models.Session)}
	d := &Dependencies{Sessions: session.New(store, true)}

	sess, err := d.Sessions.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", true)
	require.NoError(t, err)
	require.True(t, sess.OTPRequired)
	require.False(t, sess.OTPVerified)

	r := gin.New()
	r.GET("/crypto/wrapped-drk", d.requireSession(models.ActorUser), d.requireOTPSatisfied(), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/otp/verify", d.requireSession(models.ActorUser), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"ok": true})
	})
	return r, d.Sessions, sess
}

func bearerRequest(method, target, sessionID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+sessionID)
	return req
}

func TestOTPGateBlocksUnverifiedSession(t *testing.T) {
	r, _, sess := newOTPGatedEngine(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest(http.MethodGet, "/crypto/wrapped-drk", sess.SessionID))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "otp_required")
}

func TestOTPGateLeavesOTPEndpointsReachable(t *testing.T) {
	r, _, sess := newOTPGatedEngine(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest(http.MethodPost, "/otp/verify", sess.SessionID))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOTPGateOpensAfterVerification(t *testing.T) {
	r, sessions, sess := newOTPGatedEngine(t)
	require.NoError(t, sessions.MarkOTPVerified(context.Background(), sess.SessionID))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest(http.MethodGet, "/crypto/wrapped-drk", sess.SessionID))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOTPGatePassesSessionsWithoutRequirement(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &fakeSessionStore{sessions: make(map[string]*models.Session)}
	d := &Dependencies{Sessions: session.New(store, true)}
	sess, err := d.Sessions.Issue(context.Background(), models.ActorUser, "sub-1", "u@example.com", "U", false)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/users", d.requireSession(models.ActorUser), d.requireOTPSatisfied(), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"ok": true})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest(http.MethodGet, "/users", sess.SessionID))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOpaqueFinishKeyReadsSessionIDAndRestoresBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/opaque/login/finish",
		strings.NewReader(`{"sessionId":"sess-abc","confirmation":"AAAA"}`))

	require.Equal(t, "sess-abc", opaqueFinishKey(c))

	// The handler's bindJSON must still see the full body afterwards.
	var probe struct {
		SessionID    string `json:"sessionId"`
		Confirmation string `json:"confirmation"`
	}
	require.NoError(t, c.ShouldBindJSON(&probe))
	require.Equal(t, "sess-abc", probe.SessionID)
	require.Equal(t, "AAAA", probe.Confirmation)
}

func TestOpaqueFinishKeyFallsBackToServerKeyToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/opaque/register/finish",
		strings.NewReader(`{"serverKeyToken":"tok-xyz"}`))
	require.Equal(t, "tok-xyz", opaqueFinishKey(c))

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/opaque/register/finish", strings.NewReader("not json"))
	require.Equal(t, "", opaqueFinishKey(c))
}

func TestOpaqueFinishRateLimitKeyedBySessionNotIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := &Dependencies{RateLimit: ratelimit.New([]settings.RateLimitRule{
		{Class: "opaque-finish", BurstSize: 1, RatePerSecond: 0.0001},
	})}

	r := gin.New()
	r.POST("/opaque/login/finish", d.rateLimited("opaque-finish", opaqueFinishKey), func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"ok": true})
	})

	send := func(sessionID, remoteAddr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/opaque/login/finish",
			strings.NewReader(`{"sessionId":"`+sessionID+`"}`))
		req.RemoteAddr = remoteAddr
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Same session id throttles even across different source addresses.
	require.Equal(t, http.StatusOK, send("sess-1", "10.0.0.1:1111"))
	require.Equal(t, http.StatusTooManyRequests, send("sess-1", "10.0.0.2:2222"))

	// A different session id from the already-throttled address still passes.
	require.Equal(t, http.StatusOK, send("sess-2", "10.0.0.2:2222"))
}

func TestAdminPrincipalKeyReadsSessionFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	require.Equal(t, "", adminPrincipalKey(c))

	c.Set("darkauth.session", &models.Session{PrincipalID: "adm-1"})
	require.Equal(t, "adm-1", adminPrincipalKey(c))
}

func TestBodyLimitCapsRequestSize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(bodyLimit())
	r.POST("/echo", func(c *gin.Context) {
		var dst struct {
			Data string `json:"data"`
		}
		if err := c.ShouldBindJSON(&dst); err != nil {
			response.Abort(c, response.ErrValidation(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"len": len(dst.Data)})
	})

	oversized := `{"data":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(oversized))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
