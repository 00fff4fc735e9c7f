package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/session"
)

// tokenRequestDTO covers every grant_type /token accepts; not every field
// is required by every grant, validated per-branch below rather than with
// struct tags so one endpoint can serve three OAuth grants.
type tokenRequestDTO struct {
	GrantType    string `json:"grant_type" validate:"required"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type tokenResponseDTO struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ZKDRKHash    string `json:"zk_drk_hash,omitempty"`
}

// handleToken dispatches the three grant types DarkAuth supports:
// authorization_code (+ PKCE), refresh_token (rotating), and
// client_credentials (confidential clients only, no session).
func (d *Dependencies) handleToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		audit.Annotate(c, "token.exchange", "token", req.GrantType)

		switch req.GrantType {
		case "authorization_code":
			d.tokenAuthorizationCode(c, req)
		case "refresh_token":
			d.tokenRefresh(c, req)
		case "client_credentials":
			d.tokenClientCredentials(c, req)
		default:
			response.Abort(c, response.ErrOAuth(http.StatusBadRequest, "unsupported_grant_type", "unknown grant_type"))
		}
	}
}

func (d *Dependencies) tokenAuthorizationCode(c *gin.Context, req tokenRequestDTO) {
	ctx := c.Request.Context()
	if req.Code == "" || req.ClientID == "" {
		response.Abort(c, response.ErrOAuth(http.StatusBadRequest, "invalid_request", "code and client_id are required"))
		return
	}

	claims, err := d.Authz.ExchangeCode(ctx, req.ClientID, req.Code, req.CodeVerifier,
		func(ctx context.Context, user *models.User) (*models.Session, error) {
			otpRequired, err := d.RBAC.OTPRequired(ctx, user.Sub)
			if err != nil {
				return nil, err
			}
			return d.Sessions.Issue(ctx, models.ActorUser, user.Sub, user.Email, user.Name, otpRequired)
		})
	if err != nil {
		writeAuthorizeError(c, err)
		return
	}
	audit.SetActor(c, models.ActorUser, "", "")

	response.OK(c, http.StatusOK, tokenResponseDTO{
		AccessToken:  claims.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    claims.ExpiresIn,
		RefreshToken: claims.RefreshToken,
		IDToken:      string(claims.IDToken),
		ZKDRKHash:    claims.ZKDRKHash,
	})
}

// tokenRefresh rotates the session's refresh token and, when a client_id is
// supplied, reissues a fresh ID token bound to it. Callers get a 401 on an
// unknown/expired token (client clears it) or 500 on any other failure
// (client retains it) — once a refresh_token is present, only invalid_grant
// (401) or server_error (500) is returned, never a 4xx for transient storage
// failures; a request without refresh_token gets 400 invalid_request.
func (d *Dependencies) tokenRefresh(c *gin.Context, req tokenRequestDTO) {
	ctx := c.Request.Context()
	if req.RefreshToken == "" {
		response.Abort(c, response.ErrOAuth(http.StatusBadRequest, "invalid_request", "refresh_token is required"))
		return
	}

	sess, err := d.Sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	if sess == nil {
		response.Abort(c, response.ErrOAuth(http.StatusUnauthorized, "invalid_grant", "refresh token is unknown or expired"))
		return
	}
	audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)

	var idToken string
	if sess.ActorClass == models.ActorUser && req.ClientID != "" {
		user, err := d.Store.GetUserBySub(ctx, sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if user != nil {
			perms, err := d.RBAC.EffectivePermissions(ctx, user.Sub)
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			now := time.Now()
			claims := map[string]interface{}{
				"iss": d.Config.OIDC.Issuer,
				"sub": user.Sub,
				"aud": req.ClientID,
				"iat": now.Unix(),
				"exp": now.Add(session.TTL).Unix(),
				"amr": []string{"pwd"},
				"acr": "1",
			}
			if sess.OTPRequired && sess.OTPVerified {
				claims["amr"] = []string{"pwd", "otp"}
			}
			if strings.Contains(req.Scope, "email") {
				claims["email"] = user.Email
			}
			if len(perms) > 0 {
				claims["permissions"] = perms
			}
			signed, err := d.JWKS.SignIDToken(claims)
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			idToken = string(signed)
		}
	}

	response.OK(c, http.StatusOK, tokenResponseDTO{
		AccessToken:  sess.SessionID,
		TokenType:    "Bearer",
		ExpiresIn:    int(session.TTL.Seconds()),
		RefreshToken: sess.RefreshToken,
		IDToken:      idToken,
	})
}

// tokenClientCredentials issues a bare opaque access token for confidential
// clients authenticated via client_secret_basic; no session is created.
// Validating this token against a protected resource is outside this
// core's HTTP surface.
func (d *Dependencies) tokenClientCredentials(c *gin.Context, req tokenRequestDTO) {
	ctx := c.Request.Context()
	clientID, secret, ok := c.Request.BasicAuth()
	if !ok || clientID == "" {
		response.Abort(c, response.ErrOAuth(http.StatusUnauthorized, "invalid_client", "client_secret_basic credentials required"))
		return
	}

	client, err := d.Store.GetClient(ctx, clientID)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	if client == nil || !client.Enabled || client.Type != models.ClientConfidential {
		response.Abort(c, response.ErrOAuth(http.StatusUnauthorized, "invalid_client", "unknown or non-confidential client"))
		return
	}
	expected, err := d.KEK.Decrypt(client.SecretSealed, []byte(clientSecretAAD))
	if err != nil || !cryptoutil.ConstantTimeEqual([]byte(secret), expected) {
		response.Abort(c, response.ErrOAuth(http.StatusUnauthorized, "invalid_client", "bad client secret"))
		return
	}

	audit.SetActor(c, "", clientID, "")
	token, err := cryptoutil.RandomBytes(32)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	response.OK(c, http.StatusOK, tokenResponseDTO{
		AccessToken: cryptoutil.Base64URLEncode(token),
		TokenType:   "Bearer",
		ExpiresIn:   int(session.TTL.Seconds()),
	})
}
