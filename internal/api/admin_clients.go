package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

type clientDTO struct {
	ClientID                string   `json:"clientId"`
	Type                    string   `json:"type"`
	Name                    string   `json:"name"`
	RedirectURIs            []string `json:"redirectUris"`
	GrantTypes              []string `json:"grantTypes"`
	TokenEndpointAuthMethod string   `json:"tokenEndpointAuthMethod"`
	RequirePKCE             bool     `json:"requirePkce"`
	AllowedScopes           []string `json:"allowedScopes"`
	Enabled                 bool     `json:"enabled"`
}

type clientCreateRequestDTO struct {
	Name          string   `json:"name" validate:"required"`
	Type          string   `json:"type" validate:"required,oneof=public confidential"`
	RedirectURIs  []string `json:"redirectUris" validate:"required,min=1,dive,required"`
	GrantTypes    []string `json:"grantTypes" validate:"required,min=1"`
	AllowedScopes []string `json:"allowedScopes"`
}

type clientCreateResponseDTO struct {
	Client       clientDTO `json:"client"`
	ClientSecret string    `json:"clientSecret,omitempty"`
}

func toClientDTO(cl *models.Client) clientDTO {
	return clientDTO{
		ClientID:                cl.ClientID,
		Type:                    string(cl.Type),
		Name:                    cl.Name,
		RedirectURIs:            cl.RedirectURIs,
		GrantTypes:              cl.GrantTypes,
		TokenEndpointAuthMethod: cl.TokenEndpointAuthMethod,
		RequirePKCE:             cl.RequirePKCE,
		AllowedScopes:           cl.AllowedScopes,
		Enabled:                 cl.Enabled,
	}
}

// handleAdminListClients lists every registered OAuth client.
func (d *Dependencies) handleAdminListClients() gin.HandlerFunc {
	return func(c *gin.Context) {
		clients, err := d.Store.ListClients(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		out := make([]clientDTO, len(clients))
		for i, cl := range clients {
			out[i] = toClientDTO(cl)
		}
		response.OK(c, http.StatusOK, gin.H{"clients": out})
	}
}

// handleAdminCreateClient registers a client as either of the two OAuth
// client types; confidential clients get a freshly generated secret,
// returned exactly once and stored only KEK-sealed.
func (d *Dependencies) handleAdminCreateClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientCreateRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		audit.Annotate(c, "client.create", "client", "")

		clientType := models.ClientType(req.Type)
		cl := &models.Client{
			ClientID:      uuid.NewString(),
			Type:          clientType,
			Name:          req.Name,
			RedirectURIs:  req.RedirectURIs,
			GrantTypes:    req.GrantTypes,
			RequirePKCE:   clientType == models.ClientPublic,
			AllowedScopes: req.AllowedScopes,
			Enabled:       true,
		}

		var plaintextSecret string
		if clientType == models.ClientConfidential {
			cl.TokenEndpointAuthMethod = "client_secret_basic"
			secretBytes, err := cryptoutil.RandomBytes(32)
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			plaintextSecret = cryptoutil.Base64URLEncode(secretBytes)
			sealed, err := d.KEK.Encrypt([]byte(plaintextSecret), []byte(clientSecretAAD))
			if err != nil {
				response.Abort(c, response.ErrServer(err.Error()))
				return
			}
			cl.SecretSealed = sealed
		} else {
			cl.TokenEndpointAuthMethod = "none"
		}

		if err := d.Store.CreateClient(c.Request.Context(), cl); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		audit.Annotate(c, "client.create", "client", cl.ClientID)
		response.OK(c, http.StatusCreated, clientCreateResponseDTO{Client: toClientDTO(cl), ClientSecret: plaintextSecret})
	}
}

type clientUpdateRequestDTO struct {
	Name          string   `json:"name" validate:"required"`
	RedirectURIs  []string `json:"redirectUris" validate:"required,min=1,dive,required"`
	GrantTypes    []string `json:"grantTypes" validate:"required,min=1"`
	AllowedScopes []string `json:"allowedScopes"`
	Enabled       bool     `json:"enabled"`
}

// handleAdminUpdateClient updates the mutable fields of a client; its type
// and secret are immutable after creation.
func (d *Dependencies) handleAdminUpdateClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientUpdateRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		clientID := c.Param("clientId")
		audit.Annotate(c, "client.update", "client", clientID)

		ctx := c.Request.Context()
		existing, err := d.Store.GetClient(ctx, clientID)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if existing == nil {
			response.Abort(c, response.ErrNotFound("client not found"))
			return
		}
		existing.Name = req.Name
		existing.RedirectURIs = req.RedirectURIs
		existing.GrantTypes = req.GrantTypes
		existing.AllowedScopes = req.AllowedScopes
		existing.Enabled = req.Enabled

		if err := d.Store.UpdateClient(ctx, existing); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, toClientDTO(existing))
	}
}

// handleAdminDeleteClient removes a client registration.
func (d *Dependencies) handleAdminDeleteClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Param("clientId")
		audit.Annotate(c, "client.delete", "client", clientID)
		if err := d.Store.DeleteClient(c.Request.Context(), clientID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"deleted": true})
	}
}
