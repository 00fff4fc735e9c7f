package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/response"
)

// handleOpenIDConfiguration publishes the provider metadata document;
// DarkAuth supports exactly the authorization_code (with PKCE) and
// refresh_token grants plus client_credentials for service clients.
func (d *Dependencies) handleOpenIDConfiguration() gin.HandlerFunc {
	return func(c *gin.Context) {
		issuer := d.Config.OIDC.Issuer
		response.OK(c, http.StatusOK, gin.H{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/authorize",
			"token_endpoint":                        issuer + "/token",
			"jwks_uri":                              issuer + "/.well-known/jwks.json",
			"userinfo_endpoint":                     issuer + "/session",
			"response_types_supported":              []string{"code"},
			"grant_types_supported":                 []string{"authorization_code", "refresh_token", "client_credentials"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"EdDSA"},
			"code_challenge_methods_supported":      []string{"S256"},
			"token_endpoint_auth_methods_supported": []string{"none", "client_secret_basic"},
			"scopes_supported":                      []string{"openid", "email", "profile"},
			"claims_supported":                      []string{"sub", "email", "amr", "acr", "permissions", "zk_drk_hash"},
		})
	}
}

// handleJWKS publishes the current and grace-window-retired public keys.
func (d *Dependencies) handleJWKS() gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := d.JWKS.PublicJWKS()
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.JSON(http.StatusOK, set)
	}
}

// handleHealthz is an unauthenticated liveness probe, no dependency checks.
func handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleOpenAPI serves a generated OpenAPI 3 document for the user surface.
// The document is assembled at request time from the route table's shape
// rather than maintained by hand in a separate artifact.
func (d *Dependencies) handleOpenAPI() gin.HandlerFunc {
	type operation struct {
		method, summary string
	}
	paths := map[string][]operation{
		"/.well-known/openid-configuration": {{"get", "OIDC discovery document"}},
		"/.well-known/jwks.json":            {{"get", "Public signing keys, including retired keys within the grace window"}},
		"/authorize":                        {{"get", "Validate an authorization request and create a pending authorization"}},
		"/authorize/finalize":               {{"post", "Bind the authenticated user and issue a single-use authorization code"}},
		"/token":                            {{"post", "Exchange an authorization code, refresh token, or client credentials for tokens"}},
		"/session":                          {{"get", "Introspect the calling session"}},
		"/logout":                           {{"post", "Revoke the calling session"}},
		"/opaque/register/start":            {{"post", "Begin OPAQUE registration"}},
		"/opaque/register/finish":           {{"post", "Complete OPAQUE registration"}},
		"/opaque/login/start":               {{"post", "Begin OPAQUE login"}},
		"/opaque/login/finish":              {{"post", "Complete OPAQUE login and receive a session"}},
		"/crypto/wrapped-drk":               {{"get", "Fetch the stored wrapped DRK"}, {"put", "Store a wrapped DRK blob"}},
		"/crypto/wrapped-enc-priv":          {{"get", "Fetch the wrapped encryption private key"}, {"put", "Store a wrapped encryption private key"}},
		"/crypto/user-enc-pub":              {{"put", "Publish the caller's encryption public key"}},
		"/crypto/user-enc-pub/{sub}":        {{"get", "Fetch a user's published encryption public key"}},
		"/users":                            {{"get", "Directory listing (requires darkauth.users:read)"}},
		"/users/{sub}":                      {{"get", "Directory entry (requires darkauth.users:read)"}},
		"/otp/setup/init":                   {{"post", "Begin TOTP enrollment"}},
		"/otp/setup/verify":                 {{"post", "Confirm TOTP enrollment and receive backup codes"}},
		"/otp/verify":                       {{"post", "Satisfy the OTP step-up with a TOTP or backup code"}},
		"/otp/status":                       {{"get", "Report OTP enrollment state"}},
	}

	return func(c *gin.Context) {
		doc := gin.H{
			"openapi": "3.0.3",
			"info": gin.H{
				"title":   "DarkAuth",
				"version": "1.0.0",
			},
			"servers": []gin.H{{"url": d.Config.OIDC.Issuer}},
		}
		pathsDoc := gin.H{}
		for path, ops := range paths {
			item := gin.H{}
			for _, op := range ops {
				item[op.method] = gin.H{"summary": op.summary}
			}
			pathsDoc[path] = item
		}
		doc["paths"] = pathsDoc
		c.Header("Cache-Control", "public, max-age=300")
		c.JSON(http.StatusOK, doc)
	}
}
