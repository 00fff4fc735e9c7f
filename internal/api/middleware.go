package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/session"
)

const maxBodyBytes = 1 << 20 // 1 MiB request-size cap

var validate = validator.New()

// bodyLimit caps request bodies at 1 MiB before any handler reads them.
func bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

// bindJSON decodes and validates the request body, rejecting unknown fields
// on every mutating endpoint.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil {
		response.Abort(c, response.ErrValidation("request body is required"))
		return false
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Abort(c, response.ErrValidation(err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		response.Abort(c, response.ErrValidation(err.Error()))
		return false
	}
	return true
}

// rateLimited gates a route by class, keyed by client IP unless keyFn is
// supplied and returns a non-empty key for a session- or principal-scoped
// class. The /token route's keyFn reads a form-encoded client_id, while
// handleToken accepts only a JSON body, so /token requests are keyed by
// client IP.
func (d *Dependencies) rateLimited(class string, keyFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if keyFn != nil {
			if k := keyFn(c); k != "" {
				key = k
			}
		}
		if !d.RateLimit.Allow(class, key) {
			response.Abort(c, response.ErrRateLimited("too many requests"))
			return
		}
		c.Next()
	}
}

// opaqueFinishKey derives the opaque-finish rate-limit key from the request
// body's sessionId (serverKeyToken for registration finish, which carries no
// session), peeking at the body and putting it back so bindJSON inside the
// handler still sees it. An unparseable body yields "" and the limiter falls
// back to the client IP.
func opaqueFinishKey(c *gin.Context) string {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	var probe struct {
		SessionID      string `json:"sessionId"`
		ServerKeyToken string `json:"serverKeyToken"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	if probe.SessionID != "" {
		return probe.SessionID
	}
	return probe.ServerKeyToken
}

// adminPrincipalKey derives the admin-sensitive rate-limit key from the
// authenticated admin session; requireAdmin has already run as a group-level
// middleware, so the session is on context.
func adminPrincipalKey(c *gin.Context) string {
	if sess := mustSession(c); sess != nil {
		return sess.PrincipalID
	}
	return ""
}

// requireSession loads and validates the caller's session for actorClass,
// storing it on the gin context for handlers to retrieve with mustSession.
func (d *Dependencies) requireSession(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, cred, err := d.Sessions.Authenticate(c.Request.Context(), c, actorClass)
		if err != nil || sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		c.Set("darkauth.session", sess)
		c.Set("darkauth.credential", cred)
		c.Next()
	}
}

// requireCSRF enforces the cookie-carried-mutation rule; it must run after
// requireSession so the credential and session are on context.
func (d *Dependencies) requireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		cred := mustCredential(c)
		if sess == nil || cred == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		if !session.RequireCSRF(c, cred, sess) {
			response.Abort(c, response.ErrForbidden("csrf_failed", "missing or invalid csrf token"))
			return
		}
		c.Next()
	}
}

// requireOTPSatisfied blocks a session that still owes its OTP step-up: a
// session with otpRequired set and unverified may only reach the /otp group
// (which never installs this middleware); every other endpoint answers 403.
func (d *Dependencies) requireOTPSatisfied() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		if sess.OTPRequired && !sess.OTPVerified {
			response.Abort(c, response.ErrForbidden("otp_required", "complete otp verification before using this endpoint"))
			return
		}
		c.Next()
	}
}

// requirePermission denies the request unless the session's effective
// permission set contains key.
func (d *Dependencies) requirePermission(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		perms, err := d.RBAC.EffectivePermissions(c.Request.Context(), sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if !permissionsContain(perms, key) {
			response.Abort(c, response.ErrForbidden("insufficient_permissions", "missing required permission: "+key))
			return
		}
		c.Next()
	}
}

// requireAdmin loads the admin session and backing admin row, storing both
// on the gin context; every /admin route runs this before any handler.
func (d *Dependencies) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, cred, err := d.Sessions.Authenticate(c.Request.Context(), c, models.ActorAdmin)
		if err != nil || sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		admin, err := d.Store.GetAdminByID(c.Request.Context(), sess.PrincipalID)
		if err != nil || admin == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		c.Set("darkauth.session", sess)
		c.Set("darkauth.credential", cred)
		c.Set("darkauth.admin", admin)
		audit.SetActor(c, models.ActorAdmin, admin.AdminID, admin.Email)
		c.Next()
	}
}

// requireAdminWriteRole denies the request unless the authenticated admin
// holds the "write" role, for destructive admin-surface mutations.
func requireAdminWriteRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := c.Get("darkauth.admin")
		a, _ := admin.(*models.Admin)
		if !ok || a == nil || a.Role != models.AdminRoleWrite {
			response.Abort(c, response.ErrForbidden("insufficient_role", "write role required"))
			return
		}
		c.Next()
	}
}

func mustSession(c *gin.Context) *models.Session {
	v, ok := c.Get("darkauth.session")
	if !ok {
		return nil
	}
	s, _ := v.(*models.Session)
	return s
}

func mustCredential(c *gin.Context) *session.Credential {
	v, ok := c.Get("darkauth.credential")
	if !ok {
		return nil
	}
	cred, _ := v.(*session.Credential)
	return cred
}

func permissionsContain(perms []string, key string) bool {
	for _, p := range perms {
		if p == key {
			return true
		}
	}
	return false
}
