package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/totp"
)

type otpSetupInitResponseDTO struct {
	ProvisioningURI string `json:"provisioningUri"`
}

type otpSetupVerifyRequestDTO struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type otpSetupVerifyResponseDTO struct {
	BackupCodes []string `json:"backupCodes"`
}

type otpVerifyRequestDTO struct {
	Code string `json:"code" validate:"required"`
}

type otpStatusResponseDTO struct {
	Enrolled bool `json:"enrolled"`
	Pending  bool `json:"pending"`
}

// handleOTPSetupInit begins enrollment by generating and sealing a fresh
// TOTP secret in the pending state; the secret is never returned again after
// this call, only its provisioning URI.
func (d *Dependencies) handleOTPSetupInit(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "otp.setup.init", "otp_enrollment", sess.PrincipalID)

		enrollment, err := totp.NewEnrollment(sess.Email)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		sealed, err := d.KEK.Encrypt([]byte(enrollment.Secret), []byte(otpIdentityAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if err := d.Store.UpsertOTPEnrollment(c.Request.Context(), &models.OTPEnrollment{
			ActorClass:   actorClass,
			PrincipalID:  sess.PrincipalID,
			SecretSealed: sealed,
			Pending:      true,
		}); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, otpSetupInitResponseDTO{ProvisioningURI: enrollment.ProvisioningURI})
	}
}

// handleOTPSetupVerify confirms enrollment with a valid code, flips pending
// off, and issues the one-time backup code list.
func (d *Dependencies) handleOTPSetupVerify(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req otpSetupVerifyRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		ctx := c.Request.Context()
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "otp.setup.verify", "otp_enrollment", sess.PrincipalID)

		enrollment, err := d.Store.GetOTPEnrollment(ctx, actorClass, sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if enrollment == nil || !enrollment.Pending {
			response.Abort(c, response.ErrConflict("no pending otp enrollment"))
			return
		}
		secret, err := d.KEK.Decrypt(enrollment.SecretSealed, []byte(otpIdentityAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if !totp.Validate(req.Code, string(secret)) {
			response.Abort(c, response.ErrValidation("invalid otp code"))
			return
		}

		plaintextCodes, hashes, err := totp.BackupCodes()
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		now := time.Now()
		if err := d.Store.UpsertOTPEnrollment(ctx, &models.OTPEnrollment{
			ActorClass:   actorClass,
			PrincipalID:  sess.PrincipalID,
			SecretSealed: enrollment.SecretSealed,
			Pending:      false,
			VerifiedAt:   &now,
			BackupHashes: hashes,
		}); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if err := d.Sessions.MarkOTPVerified(ctx, sess.SessionID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, otpSetupVerifyResponseDTO{BackupCodes: plaintextCodes})
	}
}

// handleOTPVerify satisfies the step-up challenge for an already-issued
// session, accepting either a live TOTP code or a single-use backup code.
func (d *Dependencies) handleOTPVerify(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req otpVerifyRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		ctx := c.Request.Context()
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "otp.verify", "session", sess.SessionID)

		enrollment, err := d.Store.GetOTPEnrollment(ctx, actorClass, sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if enrollment == nil || enrollment.Pending {
			response.Abort(c, response.ErrConflict("otp is not enrolled"))
			return
		}

		if len(req.Code) == 6 {
			secret, err := d.KEK.Decrypt(enrollment.SecretSealed, []byte(otpIdentityAAD))
			if err == nil && totp.Validate(req.Code, string(secret)) {
				if err := d.Sessions.MarkOTPVerified(ctx, sess.SessionID); err != nil {
					response.Abort(c, response.ErrServer(err.Error()))
					return
				}
				response.OK(c, http.StatusOK, gin.H{"verified": true})
				return
			}
		}

		hash := totp.HashBackupCode(req.Code)
		consumed, err := d.Store.ConsumeBackupCode(ctx, actorClass, sess.PrincipalID, hash)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if !consumed {
			response.Abort(c, response.ErrValidation("invalid otp or backup code"))
			return
		}
		if err := d.Sessions.MarkOTPVerified(ctx, sess.SessionID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"verified": true})
	}
}

// handleOTPStatus reports whether the caller has completed enrollment.
func (d *Dependencies) handleOTPStatus(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		enrollment, err := d.Store.GetOTPEnrollment(c.Request.Context(), actorClass, sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if enrollment == nil {
			response.OK(c, http.StatusOK, otpStatusResponseDTO{Enrolled: false, Pending: false})
			return
		}
		response.OK(c, http.StatusOK, otpStatusResponseDTO{Enrolled: !enrollment.Pending, Pending: enrollment.Pending})
	}
}
