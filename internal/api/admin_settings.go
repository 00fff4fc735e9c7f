package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// handleAdminListSettings returns every setting row, secure values redacted.
func (d *Dependencies) handleAdminListSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := d.Store.ListSettings(c.Request.Context(), false)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"settings": settings})
	}
}

// handleAdminGetSetting describes a single setting by key.
func (d *Dependencies) handleAdminGetSetting() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := d.Store.DescribeSetting(c.Request.Context(), c.Param("key"))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if st == nil {
			response.Abort(c, response.ErrNotFound("setting not found"))
			return
		}
		if st.Secure {
			st.Value = "[redacted]"
		}
		response.OK(c, http.StatusOK, st)
	}
}

type settingUpsertRequestDTO struct {
	Category     string `json:"category" validate:"required"`
	Type         string `json:"type" validate:"required,oneof=string number boolean object"`
	Value        string `json:"value"`
	DefaultValue string `json:"defaultValue"`
	Secure       bool   `json:"secure"`
}

// handleAdminUpsertSetting writes a fully-typed setting row, gated by
// requireAdminWriteRole and the admin-sensitive rate-limit class since it
// can change rate limits or OTP policy.
func (d *Dependencies) handleAdminUpsertSetting() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settingUpsertRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		key := c.Param("key")
		audit.Annotate(c, "setting.upsert", "setting", key)
		st := &models.Setting{
			Key:          key,
			Category:     req.Category,
			Type:         models.SettingType(req.Type),
			Value:        req.Value,
			DefaultValue: req.DefaultValue,
			Secure:       req.Secure,
		}
		if err := d.Store.UpsertSettingTyped(c.Request.Context(), st); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"saved": true})
	}
}

// handleAdminRotateSigningKey rotates the JWKS signing key, demoting the
// previous current key to a 24h grace-window retirement.
func (d *Dependencies) handleAdminRotateSigningKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		audit.Annotate(c, "jwks.rotate", "signing_key", "")
		key, err := d.JWKS.Rotate(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"kid": key.KID})
	}
}
