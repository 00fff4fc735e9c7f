package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/opaque"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// installStatusResponseDTO tells the setup wizard whether it may still run.
type installStatusResponseDTO struct {
	Installable bool `json:"installable"`
}

// handleInstallStatus answers GET /api/install?token=...; the token is
// required even to probe installability, so a wrong token reads
// identically to "already installed" to an unauthenticated prober.
func (d *Dependencies) handleInstallStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !d.Install.CheckToken(c.Query("token")) {
			response.OK(c, http.StatusOK, installStatusResponseDTO{Installable: false})
			return
		}
		installable, err := d.Install.Installable(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, installStatusResponseDTO{Installable: installable})
	}
}

type installOpaqueStartRequestDTO struct {
	Token   string                 `json:"token" validate:"required"`
	Request registrationRequestDTO `json:"request" validate:"required"`
}

// handleInstallOpaqueStart runs the OPAQUE registration-start exchange for
// the bootstrap administrator, gated by the install token instead of a
// session since no admin exists yet; the OPRF math is identical to the
// regular registration start, just addressed by token rather than actor
// class.
func (d *Dependencies) handleInstallOpaqueStart() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req installOpaqueStartRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		if !d.Install.CheckToken(req.Token) {
			response.Abort(c, response.ErrUnauthorized("invalid install token"))
			return
		}
		blinded, err := cryptoutil.Base64URLDecode(req.Request.Request)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid request encoding"))
			return
		}

		static, err := d.serverStaticKeyPair(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		oprfKey, err := opaque.NewServerOPRFKey()
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		evaluated, err := opaque.Evaluate(oprfKey, blinded)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid blinded element"))
			return
		}
		sealedKey, err := d.KEK.Encrypt(oprfKey.Bytes(), []byte(opaqueOPRFKeyAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		resp := opaque.RegistrationResponse{EvaluatedElement: evaluated, ServerPublicKey: static.Private.PublicKey().Bytes()}
		response.OK(c, http.StatusOK, registerStartResponseDTO{
			Response:       cryptoutil.Base64URLEncode(marshalRegistrationResponse(&resp)),
			ServerKeyToken: cryptoutil.Base64URLEncode(sealedKey),
		})
	}
}

type installOpaqueFinishRequestDTO struct {
	Token          string `json:"token" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name" validate:"required"`
	ServerKeyToken string `json:"serverKeyToken" validate:"required"`
	Record         struct {
		Envelope        string `json:"envelope" validate:"required"`
		ClientPublicKey string `json:"clientPublicKey" validate:"required"`
		MaskingKey      string `json:"maskingKey" validate:"required"`
	} `json:"record" validate:"required"`
}

// handleInstallOpaqueFinish completes OPAQUE registration for the bootstrap
// administrator and persists it via install.Bootstrap.RegisterAdmin, which
// enforces that this can only ever succeed once.
func (d *Dependencies) handleInstallOpaqueFinish() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req installOpaqueFinishRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		if !d.Install.CheckToken(req.Token) {
			response.Abort(c, response.ErrUnauthorized("invalid install token"))
			return
		}
		ctx := c.Request.Context()
		audit.Annotate(c, "install.opaque.finish", "admin", req.Email)

		sealedKey, err := cryptoutil.Base64URLDecode(req.ServerKeyToken)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid serverKeyToken encoding"))
			return
		}
		oprfKeyRaw, err := d.KEK.Decrypt(sealedKey, []byte(opaqueOPRFKeyAAD))
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid or expired serverKeyToken"))
			return
		}
		envelope, err := cryptoutil.Base64URLDecode(req.Record.Envelope)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid envelope encoding"))
			return
		}
		clientPub, err := cryptoutil.Base64URLDecode(req.Record.ClientPublicKey)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid clientPublicKey encoding"))
			return
		}
		maskingKey, err := cryptoutil.Base64URLDecode(req.Record.MaskingKey)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid maskingKey encoding"))
			return
		}
		record := &opaque.RegistrationRecord{Envelope: envelope, ClientPublicKey: clientPub, MaskingKey: maskingKey}
		sealedOPRF, err := d.KEK.Encrypt(oprfKeyRaw, []byte(opaqueOPRFKeyAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		if err := d.Install.RegisterAdmin(ctx, req.Email, req.Name, record, sealedOPRF); err != nil {
			response.Abort(c, response.ErrConflict(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"registered": true})
	}
}

type installCompleteRequestDTO struct {
	Token string `json:"token" validate:"required"`
}

// handleInstallComplete seeds defaults and flips the installed flag.
func (d *Dependencies) handleInstallComplete() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req installCompleteRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		if !d.Install.CheckToken(req.Token) {
			response.Abort(c, response.ErrUnauthorized("invalid install token"))
			return
		}
		audit.Annotate(c, "install.complete", "installation", "")
		if err := d.Install.Complete(c.Request.Context()); err != nil {
			response.Abort(c, response.ErrConflict(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"installed": true})
	}
}
