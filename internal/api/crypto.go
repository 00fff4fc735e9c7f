package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/zkdrk"
)

// These endpoints hold zero-knowledge custody material: the server stores
// and returns opaque blobs it validates only for wire shape, never
// plaintext.

type wrappedBlobRequestDTO struct {
	Blob string `json:"blob" validate:"required"`
}

type wrappedBlobResponseDTO struct {
	Blob      string `json:"blob"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// handleGetWrappedDRK returns the caller's stored DRK JWE blob verbatim.
func (d *Dependencies) handleGetWrappedDRK() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		wrapped, err := d.Store.GetWrappedDRK(c.Request.Context(), sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if wrapped == nil {
			response.Abort(c, response.ErrNotFound("no wrapped drk on file"))
			return
		}
		response.OK(c, http.StatusOK, wrappedBlobResponseDTO{
			Blob:      cryptoutil.Base64URLEncode(wrapped.Blob),
			UpdatedAt: wrapped.UpdatedAt.Format(http.TimeFormat),
		})
	}
}

// handlePutWrappedDRK validates the JWE's wire shape (ECDH-ES + A256GCM
// compact serialization) and stores it unread, never touching the DRK
// itself.
func (d *Dependencies) handlePutWrappedDRK() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wrappedBlobRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "crypto.drk.put", "wrapped_drk", sess.PrincipalID)

		blob, err := cryptoutil.Base64URLDecode(req.Blob)
		if err != nil {
			response.Abort(c, response.ErrValidation("blob must be base64url"))
			return
		}
		if err := zkdrk.ValidateCompactJWE(blob); err != nil {
			response.Abort(c, response.ErrValidation("malformed drk jwe: "+err.Error()))
			return
		}
		if err := d.Store.PutWrappedDRK(c.Request.Context(), sess.PrincipalID, blob); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"stored": true})
	}
}

// handleGetWrappedEncPriv returns the caller's client-wrapped encryption
// private key blob, used for cross-device recovery.
func (d *Dependencies) handleGetWrappedEncPriv() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		priv, err := d.Store.GetUserEncPrivJWK(c.Request.Context(), sess.PrincipalID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if priv == nil {
			response.Abort(c, response.ErrNotFound("no wrapped encryption key on file"))
			return
		}
		response.OK(c, http.StatusOK, wrappedBlobResponseDTO{Blob: cryptoutil.Base64URLEncode(priv.Blob)})
	}
}

// handlePutWrappedEncPriv stores the caller's client-wrapped encryption
// private key unread, same custody model as the DRK.
func (d *Dependencies) handlePutWrappedEncPriv() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wrappedBlobRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "crypto.enc_priv.put", "user_enc_priv_jwk", sess.PrincipalID)

		blob, err := cryptoutil.Base64URLDecode(req.Blob)
		if err != nil {
			response.Abort(c, response.ErrValidation("blob must be base64url"))
			return
		}
		if err := zkdrk.ValidateCompactJWE(blob); err != nil {
			response.Abort(c, response.ErrValidation("malformed enc-priv jwe: "+err.Error()))
			return
		}
		if err := d.Store.PutUserEncPrivJWK(c.Request.Context(), sess.PrincipalID, blob); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"stored": true})
	}
}

type userEncPubRequestDTO struct {
	JWK string `json:"jwk" validate:"required"`
}

// handlePutUserEncPub publishes the caller's P-256 encryption public key,
// used by other parties to produce a DRK JWE addressed to this user.
func (d *Dependencies) handlePutUserEncPub() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userEncPubRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		sess := mustSession(c)
		if sess == nil {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}
		audit.SetActor(c, sess.ActorClass, sess.PrincipalID, sess.Email)
		audit.Annotate(c, "crypto.enc_pub.put", "user_enc_pub_jwk", sess.PrincipalID)

		jwkBytes, err := cryptoutil.Base64URLDecode(req.JWK)
		if err != nil {
			response.Abort(c, response.ErrValidation("jwk must be base64url"))
			return
		}
		if err := d.Store.PutUserEncPubJWK(c.Request.Context(), sess.PrincipalID, jwkBytes); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"stored": true})
	}
}

// handleGetUserEncPub returns sub's published encryption public key; any
// authenticated user may look another user up by sub to address them.
func (d *Dependencies) handleGetUserEncPub() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Param("sub")
		pub, err := d.Store.GetUserEncPubJWK(c.Request.Context(), sub)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if pub == nil {
			response.Abort(c, response.ErrNotFound("no encryption public key on file"))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"jwk": cryptoutil.Base64URLEncode(pub.JWK)})
	}
}
