package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/opaque"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// registrationRequestDTO carries the client's blinded OPRF element,
// base64url-encoded.
type registrationRequestDTO struct {
	Request string `json:"request" validate:"required"`
}

type registrationResponseDTO struct {
	Response string `json:"response"`
}

type registerStartRequestDTO struct {
	Email   string                 `json:"email" validate:"required,email"`
	Name    string                 `json:"name" validate:"required"`
	Request registrationRequestDTO `json:"request" validate:"required"`
}

type registerStartResponseDTO struct {
	Response       string `json:"response"`
	ServerKeyToken string `json:"serverKeyToken"`
}

type registerFinishRequestDTO struct {
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name" validate:"required"`
	ServerKeyToken string `json:"serverKeyToken" validate:"required"`
	Record         struct {
		Envelope        string `json:"envelope" validate:"required"`
		ClientPublicKey string `json:"clientPublicKey" validate:"required"`
		MaskingKey      string `json:"maskingKey" validate:"required"`
	} `json:"record" validate:"required"`
}

type loginStartRequestDTO struct {
	Email                 string `json:"email" validate:"required,email"`
	BlindedElement        string `json:"blindedElement" validate:"required"`
	ClientEphemeralPublic string `json:"clientEphemeralPublic" validate:"required"`
}

type loginStartResponseDTO struct {
	SessionID             string `json:"sessionId"`
	EvaluatedElement      string `json:"evaluatedElement"`
	MaskedEnvelope        string `json:"maskedEnvelope"`
	ServerEphemeralPublic string `json:"serverEphemeralPublic"`
	ServerStaticPublic    string `json:"serverStaticPublic"`
}

type loginFinishRequestDTO struct {
	SessionID string `json:"sessionId" validate:"required"`
	// Email is accepted but ignored: identity is read from the server-held
	// login session row, never from the client.
	Email        string `json:"email"`
	Confirmation string `json:"confirmation" validate:"required"`
}

type loginFinishResponseDTO struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	Sub          string      `json:"sub"`
	User         interface{} `json:"user"`
	OTPRequired  bool        `json:"otpRequired"`
	SessionKey   string      `json:"sessionKey"`
}

// registerOpaqueRoutes wires the four OPAQUE endpoints for one actor class
// onto group; users and admins share the handlers but never a namespace.
func (d *Dependencies) registerOpaqueRoutes(group *gin.RouterGroup, actorClass models.ActorClass) {
	group.POST("/opaque/register/start", d.rateLimited("opaque", nil), d.handleOpaqueRegisterStart(actorClass))
	group.POST("/opaque/register/finish", d.rateLimited("opaque-finish", opaqueFinishKey), d.handleOpaqueRegisterFinish(actorClass))
	group.POST("/opaque/login/start", d.rateLimited("opaque", nil), d.handleOpaqueLoginStart(actorClass))
	group.POST("/opaque/login/finish", d.rateLimited("opaque-finish", opaqueFinishKey), d.handleOpaqueLoginFinish(actorClass))
}

func (d *Dependencies) handleOpaqueRegisterStart(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerStartRequestDTO
		if !bindJSON(c, &req) {
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
		_ = actorClass
		c.JSON(200, response.Envelope{Success: true, Message: "ok", Data: registerStartResponseDTO{
			Response:       cryptoutil.Base64URLEncode(marshalRegistrationResponse(&resp)),
			ServerKeyToken: cryptoutil.Base64URLEncode(sealedKey),
		}, Meta: map[string]interface{}{}})
	}
}

func (d *Dependencies) handleOpaqueRegisterFinish(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerFinishRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		audit.SetActor(c, actorClass, "", req.Email)
		audit.Annotate(c, "opaque.register", string(actorClass), "")

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

		ctx := c.Request.Context()
		switch actorClass {
		case models.ActorUser:
			existing, err := d.Store.GetUserByEmail(ctx, req.Email)
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			if existing != nil {
				response.Abort(c, response.ErrConflict("email already registered"))
				return
			}
			u, err := d.Store.CreateUser(ctx, req.Email, req.Name, record.Marshal(), sealedOPRF, "DarkAuth")
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			audit.SetActor(c, actorClass, u.Sub, u.Email)
			response.OK(c, 200, gin.H{"sub": u.Sub})
		default:
			response.Abort(c, response.ErrForbidden("", "admin self-registration is not permitted"))
		}
	}
}

func (d *Dependencies) handleOpaqueLoginStart(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginStartRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()

		blinded, err := cryptoutil.Base64URLDecode(req.BlindedElement)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid blindedElement encoding"))
			return
		}
		clientEphemeralPub, err := cryptoutil.Base64URLDecode(req.ClientEphemeralPublic)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid clientEphemeralPublic encoding"))
			return
		}
		ke1 := &opaque.KE1{BlindedElement: blinded, ClientEphemeralPublic: clientEphemeralPub}

		static, err := d.serverStaticKeyPair(ctx)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		oprfKey, record, err := d.loadOPRFKeyAndRecord(ctx, actorClass, req.Email)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		ke2, serverEphemeral, err := opaque.Respond(oprfKey, static, record, ke1)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid login request"))
			return
		}

		state := &opaque.ServerLoginState{
			ServerEphemeralPrivate: serverEphemeral.Bytes(),
			ClientEphemeralPublic:  ke1.ClientEphemeralPublic,
			ClientStaticPublic:     record.ClientPublicKey,
		}
		stateBytes, err := state.Marshal()
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		sealedState, err := d.KEK.Encrypt(stateBytes, []byte(opaqueLoginStateAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		sealedEmail, err := d.KEK.Encrypt([]byte(req.Email), []byte(opaqueLoginEmailAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		sess := &models.OpaqueLoginSession{
			SessionID:       uuid.NewString(),
			ActorClass:      actorClass,
			ServerState:     sealedState,
			IdentityUSealed: sealedEmail,
			ExpiresAt:       timeNowAdd(opaqueLoginSessionTTL()),
		}
		if err := d.Store.CreateOpaqueLoginSession(ctx, sess); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		response.OK(c, 200, loginStartResponseDTO{
			SessionID:             sess.SessionID,
			EvaluatedElement:      cryptoutil.Base64URLEncode(ke2.EvaluatedElement),
			MaskedEnvelope:        cryptoutil.Base64URLEncode(ke2.MaskedEnvelope),
			ServerEphemeralPublic: cryptoutil.Base64URLEncode(ke2.ServerEphemeralPublic),
			ServerStaticPublic:    cryptoutil.Base64URLEncode(ke2.ServerStaticPublic),
		})
	}
}

// loadOPRFKeyAndRecord fetches the actor's real envelope and OPRF key, or —
// when no such identity exists — a freshly-generated random stand-in with
// the same field sizes as a real record, so the response shape never
// betrays account existence: OPAQUE auth
// failure is always reported as plain "unauthorized".
func (d *Dependencies) loadOPRFKeyAndRecord(ctx context.Context, actorClass models.ActorClass, email string) (*opaque.ServerOPRFKey, *opaque.RegistrationRecord, error) {
	var recordBytes, sealedOPRF []byte

	switch actorClass {
	case models.ActorUser:
		u, err := d.Store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, nil, err
		}
		if u != nil {
			env, err := d.Store.GetUserEnvelope(ctx, u.Sub)
			if err != nil {
				return nil, nil, err
			}
			if env != nil {
				recordBytes, sealedOPRF = env.Record, env.OPRFKeySealed
			}
		}
	case models.ActorAdmin:
		a, err := d.Store.GetAdminByEmail(ctx, email)
		if err != nil {
			return nil, nil, err
		}
		if a != nil {
			env, err := d.Store.GetAdminEnvelope(ctx, a.AdminID)
			if err != nil {
				return nil, nil, err
			}
			if env != nil {
				recordBytes, sealedOPRF = env.Record, env.OPRFKeySealed
			}
		}
	}

	if recordBytes != nil {
		record, err := opaque.UnmarshalRegistrationRecord(recordBytes)
		if err != nil {
			return nil, nil, err
		}
		oprfRaw, err := d.KEK.Decrypt(sealedOPRF, []byte(opaqueOPRFKeyAAD))
		if err != nil {
			return nil, nil, err
		}
		return opaque.ServerOPRFKeyFromBytes(oprfRaw), record, nil
	}

	return dummyOPRFKeyAndRecord()
}

func dummyOPRFKeyAndRecord() (*opaque.ServerOPRFKey, *opaque.RegistrationRecord, error) {
	key, err := opaque.NewServerOPRFKey()
	if err != nil {
		return nil, nil, err
	}
	envelope, err := cryptoutil.RandomBytes(12 + 32 + 65 + 16)
	if err != nil {
		return nil, nil, err
	}
	clientPub, err := cryptoutil.RandomBytes(65)
	if err != nil {
		return nil, nil, err
	}
	maskingKey, err := cryptoutil.RandomBytes(32)
	if err != nil {
		return nil, nil, err
	}
	return key, &opaque.RegistrationRecord{Envelope: envelope, ClientPublicKey: clientPub, MaskingKey: maskingKey}, nil
}

func (d *Dependencies) handleOpaqueLoginFinish(actorClass models.ActorClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginFinishRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		audit.Annotate(c, "opaque.login", string(actorClass), "")

		sess, err := d.Store.ConsumeOpaqueLoginSession(ctx, req.SessionID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if sess == nil || sess.ActorClass != actorClass {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}

		confirmation, err := cryptoutil.Base64URLDecode(req.Confirmation)
		if err != nil {
			response.Abort(c, response.ErrValidation("invalid confirmation encoding"))
			return
		}
		stateBytes, err := d.KEK.Decrypt(sess.ServerState, []byte(opaqueLoginStateAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		state, err := opaque.UnmarshalServerLoginState(stateBytes)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		emailRaw, err := d.KEK.Decrypt(sess.IdentityUSealed, []byte(opaqueLoginEmailAAD))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		email := string(emailRaw)

		static, err := d.serverStaticKeyPair(ctx)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		// FinishLogin always runs the full derivation and comparison, even
		// for an identity that turns out not to exist below, so the two
		// failure paths take the same time.
		sessionKey, ok, err := opaque.FinishLogin(static, state, &opaque.KE3{Confirmation: confirmation})
		if err != nil || !ok {
			response.Abort(c, response.ErrUnauthorized(""))
			return
		}

		switch actorClass {
		case models.ActorUser:
			d.finishUserLogin(c, email, sessionKey)
		case models.ActorAdmin:
			d.finishAdminLogin(c, email, sessionKey)
		}
	}
}

func (d *Dependencies) finishUserLogin(c *gin.Context, email string, sessionKey []byte) {
	ctx := c.Request.Context()
	u, err := d.Store.GetUserByEmail(ctx, email)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	if u == nil {
		response.Abort(c, response.ErrUnauthorized(""))
		return
	}
	audit.SetActor(c, models.ActorUser, u.Sub, u.Email)

	allowed, err := d.RBAC.LoginGate(ctx, u.Sub)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	if !allowed {
		response.Abort(c, response.ErrForbidden("USER_LOGIN_NOT_ALLOWED", "login is disabled for this account"))
		return
	}
	otpRequired, err := d.RBAC.OTPRequired(ctx, u.Sub)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}

	sess, err := d.Sessions.Issue(ctx, models.ActorUser, u.Sub, u.Email, u.Name, otpRequired)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	d.Sessions.SetCookies(c, models.ActorUser, sess)

	response.OK(c, 200, loginFinishResponseDTO{
		AccessToken:  sess.SessionID,
		RefreshToken: sess.RefreshToken,
		Sub:          u.Sub,
		User:         gin.H{"sub": u.Sub, "email": u.Email, "name": u.Name},
		OTPRequired:  otpRequired,
		SessionKey:   cryptoutil.Base64URLEncode(sessionKey),
	})
}

func (d *Dependencies) finishAdminLogin(c *gin.Context, email string, sessionKey []byte) {
	ctx := c.Request.Context()
	a, err := d.Store.GetAdminByEmail(ctx, email)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	if a == nil {
		response.Abort(c, response.ErrUnauthorized(""))
		return
	}
	audit.SetActor(c, models.ActorAdmin, a.AdminID, a.Email)

	otpRequired, err := d.Settings.GlobalOTPRequired(ctx)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}

	sess, err := d.Sessions.Issue(ctx, models.ActorAdmin, a.AdminID, a.Email, a.Name, otpRequired)
	if err != nil {
		response.Abort(c, response.ErrServer(err.Error()))
		return
	}
	d.Sessions.SetCookies(c, models.ActorAdmin, sess)

	response.OK(c, 200, loginFinishResponseDTO{
		AccessToken:  sess.SessionID,
		RefreshToken: sess.RefreshToken,
		Sub:          a.AdminID,
		User:         gin.H{"sub": a.AdminID, "email": a.Email, "name": a.Name, "role": a.Role},
		OTPRequired:  otpRequired,
		SessionKey:   cryptoutil.Base64URLEncode(sessionKey),
	})
}

// marshalRegistrationResponse length-prefix encodes the two public fields of
// a RegistrationResponse, mirroring RegistrationRecord.Marshal.
func marshalRegistrationResponse(r *opaque.RegistrationResponse) []byte {
	out := make([]byte, 0, 4+len(r.EvaluatedElement)+len(r.ServerPublicKey))
	for _, chunk := range [][]byte{r.EvaluatedElement, r.ServerPublicKey} {
		n := len(chunk)
		out = append(out, byte(n>>8), byte(n))
		out = append(out, chunk...)
	}
	return out
}
