package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// NewUserRouter builds the end-user-facing gin engine: OPAQUE auth, OIDC
// authorize/token, session introspection, OTP step-up, and the
// zero-knowledge crypto custody endpoints, following the identify
// service's routes/api/v1 grouping idiom (one RouterGroup per resource).
func (d *Dependencies) NewUserRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), bodyLimit(), d.Audit.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", handleHealthz())
	r.GET("/openapi", d.handleOpenAPI())
	r.GET("/.well-known/openid-configuration", d.handleOpenIDConfiguration())
	r.GET("/.well-known/jwks.json", d.handleJWKS())

	users := r.Group("/")
	d.registerOpaqueRoutes(users, models.ActorUser)

	users.GET("/authorize", d.rateLimited("token", nil), d.handleAuthorize())
	users.POST("/authorize/finalize", d.requireSession(models.ActorUser), d.requireOTPSatisfied(), d.requireCSRF(), d.handleAuthorizeFinalize())
	users.POST("/token", d.rateLimited("token", func(c *gin.Context) string { return c.PostForm("client_id") }), d.handleToken())

	users.GET("/session", d.requireSession(models.ActorUser), d.requireOTPSatisfied(), d.handleSessionInfo(models.ActorUser))
	users.POST("/logout", d.requireSession(models.ActorUser), d.requireOTPSatisfied(), d.requireCSRF(), d.handleLogout(models.ActorUser))

	otpUser := users.Group("/otp")
	otpUser.Use(d.requireSession(models.ActorUser))
	otpUser.POST("/setup/init", d.requireCSRF(), d.handleOTPSetupInit(models.ActorUser))
	otpUser.POST("/setup/verify", d.requireCSRF(), d.handleOTPSetupVerify(models.ActorUser))
	otpUser.POST("/verify", d.requireCSRF(), d.handleOTPVerify(models.ActorUser))
	otpUser.GET("/status", d.handleOTPStatus(models.ActorUser))

	cryptoGroup := users.Group("/crypto")
	cryptoGroup.Use(d.requireSession(models.ActorUser), d.requireOTPSatisfied())
	cryptoGroup.GET("/wrapped-drk", d.handleGetWrappedDRK())
	cryptoGroup.PUT("/wrapped-drk", d.requireCSRF(), d.handlePutWrappedDRK())
	cryptoGroup.GET("/wrapped-enc-priv", d.handleGetWrappedEncPriv())
	cryptoGroup.PUT("/wrapped-enc-priv", d.requireCSRF(), d.handlePutWrappedEncPriv())
	cryptoGroup.PUT("/user-enc-pub", d.requireCSRF(), d.handlePutUserEncPub())
	cryptoGroup.GET("/user-enc-pub/:sub", d.handleGetUserEncPub())

	usersGroup := users.Group("/users")
	usersGroup.Use(d.requireSession(models.ActorUser), d.requireOTPSatisfied(), d.requirePermission("darkauth.users:read"))
	usersGroup.GET("", d.handleListUsers())
	usersGroup.GET("/:sub", d.handleGetUser())

	return r
}

// NewAdminRouter builds the administrator-facing gin engine: the one-shot
// install flow, admin OPAQUE auth, and the full RBAC/client/settings/audit
// management surface.
func (d *Dependencies) NewAdminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), bodyLimit(), d.Audit.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", handleHealthz())

	install := r.Group("/api/install")
	install.GET("", d.handleInstallStatus())
	install.POST("/opaque/start", d.rateLimited("opaque", nil), d.handleInstallOpaqueStart())
	install.POST("/opaque/finish", d.rateLimited("opaque-finish", opaqueFinishKey), d.handleInstallOpaqueFinish())
	install.POST("/complete", d.handleInstallComplete())

	admins := r.Group("/")
	d.registerOpaqueRoutes(admins, models.ActorAdmin)

	admins.GET("/session", d.requireAdmin(), d.requireOTPSatisfied(), d.handleSessionInfo(models.ActorAdmin))
	admins.POST("/logout", d.requireAdmin(), d.requireOTPSatisfied(), d.requireCSRF(), d.handleLogout(models.ActorAdmin))

	otpAdmin := admins.Group("/otp")
	otpAdmin.Use(d.requireAdmin())
	otpAdmin.POST("/setup/init", d.requireCSRF(), d.handleOTPSetupInit(models.ActorAdmin))
	otpAdmin.POST("/setup/verify", d.requireCSRF(), d.handleOTPSetupVerify(models.ActorAdmin))
	otpAdmin.POST("/verify", d.requireCSRF(), d.handleOTPVerify(models.ActorAdmin))
	otpAdmin.GET("/status", d.handleOTPStatus(models.ActorAdmin))

	adminGroup := admins.Group("/admin")
	adminGroup.Use(d.requireAdmin(), d.requireOTPSatisfied())

	adminGroup.GET("/users", d.handleAdminListUsers())
	adminGroup.GET("/users/:sub", d.handleAdminGetUser())
	adminGroup.DELETE("/users/:sub", requireAdminWriteRole(), d.rateLimited("admin-sensitive", adminPrincipalKey), d.requireCSRF(), d.handleAdminDeleteUser())
	adminGroup.GET("/users/:sub/otp", d.handleAdminUserOTPStatus())
	adminGroup.DELETE("/users/:sub/otp", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminResetUserOTP())

	adminGroup.GET("/admins", d.handleAdminListAdmins())
	adminGroup.PATCH("/admins/:adminId/role", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminUpdateAdminRole())
	adminGroup.DELETE("/admins/:adminId", requireAdminWriteRole(), d.rateLimited("admin-sensitive", adminPrincipalKey), d.requireCSRF(), d.handleAdminDeleteAdmin())

	adminGroup.GET("/clients", d.handleAdminListClients())
	adminGroup.POST("/clients", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminCreateClient())
	adminGroup.PATCH("/clients/:clientId", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminUpdateClient())
	adminGroup.DELETE("/clients/:clientId", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminDeleteClient())

	adminGroup.GET("/groups", d.handleAdminListGroups())
	adminGroup.POST("/groups", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminCreateGroup())
	adminGroup.PATCH("/groups/:key", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminUpdateGroup())
	adminGroup.DELETE("/groups/:key", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminDeleteGroup())
	adminGroup.POST("/groups/:key/members", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminAddGroupMember())
	adminGroup.DELETE("/groups/:key/members/:userSub", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminRemoveGroupMember())

	adminGroup.GET("/organizations", d.handleAdminListOrganizations())
	adminGroup.POST("/organizations", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminCreateOrganization())
	adminGroup.PATCH("/organizations/:orgId", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminUpdateOrganization())
	adminGroup.POST("/organizations/:orgId/members", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminSetOrganizationMember())

	adminGroup.GET("/roles", d.handleAdminListRoles())
	adminGroup.POST("/roles", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminCreateRole())

	adminGroup.GET("/permissions", d.handleAdminListPermissions())
	adminGroup.POST("/permissions", requireAdminWriteRole(), d.requireCSRF(), d.handleAdminCreatePermission())

	adminGroup.GET("/settings", d.handleAdminListSettings())
	adminGroup.GET("/settings/:key", d.handleAdminGetSetting())
	adminGroup.PUT("/settings/:key", requireAdminWriteRole(), d.rateLimited("admin-sensitive", adminPrincipalKey), d.requireCSRF(), d.handleAdminUpsertSetting())

	adminGroup.POST("/keys/rotate", requireAdminWriteRole(), d.rateLimited("admin-sensitive", adminPrincipalKey), d.requireCSRF(), d.handleAdminRotateSigningKey())

	adminGroup.GET("/audit", d.handleAdminListAudit())
	adminGroup.GET("/audit/:id", d.handleAdminGetAuditEntry())
	adminGroup.GET("/audit/export.csv", d.handleAdminExportAuditCSV())

	return r
}
