package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/authz"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// authorizeResponseDTO is returned from GET /authorize when the caller asks
// for JSON (Accept: application/json); HTML callers get a redirect to the
// external login UI carrying the same request id.
type authorizeResponseDTO struct {
	RequestID string `json:"requestId"`
}

type finalizeRequestDTO struct {
	RequestID string `json:"requestId" validate:"required"`
	DRKJWE    string `json:"drkJwe"`
}

type finalizeResponseDTO struct {
	Code   string `json:"code"`
	State  string `json:"state"`
	DRKJWE string `json:"drkJwe,omitempty"`
}

// handleAuthorize validates a GET /authorize request and creates the
// pending_authorization row; a reader's UI collects authentication against
// the returned request id.
func (d *Dependencies) handleAuthorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()

		var zkPub []byte
		if raw := q.Get("zk_pub"); raw != "" {
			decoded, err := cryptoutil.Base64URLDecode(raw)
			if err != nil {
				response.Abort(c, response.ErrOAuth(http.StatusBadRequest, "invalid_request", "zk_pub must be base64url"))
				return
			}
			zkPub = decoded
		}

		req := authz.AuthorizeRequest{
			ClientID:            q.Get("client_id"),
			RedirectURI:         q.Get("redirect_uri"),
			ResponseType:        q.Get("response_type"),
			Scope:               q.Get("scope"),
			State:               q.Get("state"),
			Nonce:               q.Get("nonce"),
			CodeChallenge:       q.Get("code_challenge"),
			CodeChallengeMethod: q.Get("code_challenge_method"),
			ZKPub:               zkPub,
			Origin:              c.GetHeader("Origin"),
		}

		pending, err := d.Authz.StartAuthorize(c.Request.Context(), req)
		if err != nil {
			writeAuthorizeError(c, err)
			return
		}

		if wantsHTML(c) {
			c.Redirect(http.StatusFound, "/login?request_id="+pending.RequestID)
			return
		}
		response.OK(c, http.StatusOK, authorizeResponseDTO{RequestID: pending.RequestID})
	}
}

// handleAuthorizeFinalize binds the authenticated session onto the pending
// row and issues a one-shot authorization code.
func (d *Dependencies) handleAuthorizeFinalize() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req finalizeRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "authorize.finalize", "pending_authorization", req.RequestID)

		var drkJWE []byte
		if req.DRKJWE != "" {
			b, err := cryptoutil.Base64URLDecode(req.DRKJWE)
			if err != nil {
				response.Abort(c, response.ErrValidation("invalid drkJwe encoding"))
				return
			}
			drkJWE = b
		}

		result, err := d.Authz.Finalize(c.Request.Context(), req.RequestID, sess.PrincipalID, sess, drkJWE)
		if err != nil {
			writeAuthorizeError(c, err)
			return
		}
		response.OK(c, http.StatusOK, finalizeResponseDTO{Code: result.Code, State: result.State, DRKJWE: result.DRKJWE})
	}
}

func writeAuthorizeError(c *gin.Context, err error) {
	var verr *authz.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusBadRequest
		if verr.Code == "login_required" {
			status = http.StatusForbidden
		}
		response.Abort(c, response.ErrOAuth(status, verr.Code, verr.Msg))
		return
	}
	response.Abort(c, response.ErrServer(err.Error()))
}

// wantsHTML reports whether the caller's Accept header prefers an HTML
// document over JSON.
func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
