package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

type sessionResponseDTO struct {
	ActorClass  models.ActorClass `json:"actorClass"`
	PrincipalID string            `json:"principalId"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	OTPRequired bool              `json:"otpRequired"`
	OTPVerified bool              `json:"otpVerified"`
	ExpiresAt   string            `json:"expiresAt"`
}

// handleSessionInfo answers GET /session with the caller's own session,
// requireSession having already resolved and validated it.
func (d *Dependencies) handleSessionInfo(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		response.OK(c, http.StatusOK, sessionResponseDTO{
			ActorClass:  sess.ActorClass,
			PrincipalID: sess.PrincipalID,
			Email:       sess.Email,
			Name:        sess.Name,
			OTPRequired: sess.OTPRequired,
			OTPVerified: sess.OTPVerified,
			ExpiresAt:   sess.ExpiresAt.Format(http.TimeFormat),
		})
	}
}

// handleLogout revokes the calling session and clears its cookies.
func (d *Dependencies) handleLogout(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "session.logout", "session", sess.SessionID)

		if err := d.Sessions.Revoke(c.Request.Context(), sess.SessionID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		d.Sessions.ClearCookies(c, actorClass)
		response.OK(c, http.StatusOK, gin.H{"revoked": true})
	}
}
