package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// -- groups --

type groupRequestDTO struct {
	Key         string `json:"key" validate:"required"`
	Name        string `json:"name" validate:"required"`
	EnableLogin bool   `json:"enableLogin"`
	RequireOTP  bool   `json:"requireOtp"`
}

func (d *Dependencies) handleAdminListGroups() gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := d.Store.ListGroups(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"groups": groups})
	}
}

func (d *Dependencies) handleAdminCreateGroup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req groupRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		audit.Annotate(c, "group.create", "group", req.Key)
		g := &models.Group{Key: req.Key, Name: req.Name, EnableLogin: req.EnableLogin, RequireOTP: req.RequireOTP}
		if err := d.Store.CreateGroup(c.Request.Context(), g); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusCreated, g)
	}
}

func (d *Dependencies) handleAdminUpdateGroup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req groupRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		key := c.Param("key")
		audit.Annotate(c, "group.update", "group", key)
		g := &models.Group{Key: key, Name: req.Name, EnableLogin: req.EnableLogin, RequireOTP: req.RequireOTP}
		if err := d.Store.UpdateGroup(c.Request.Context(), g); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, g)
	}
}

func (d *Dependencies) handleAdminDeleteGroup() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		audit.Annotate(c, "group.delete", "group", key)
		if err := d.Store.DeleteGroup(c.Request.Context(), key); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"deleted": true})
	}
}

type groupMembershipRequestDTO struct {
	UserSub string `json:"userSub" validate:"required"`
}

func (d *Dependencies) handleAdminAddGroupMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req groupMembershipRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		key := c.Param("key")
		audit.Annotate(c, "group.member.add", "group", key)
		if err := d.Store.AssignUserToGroup(c.Request.Context(), req.UserSub, key); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"added": true})
	}
}

func (d *Dependencies) handleAdminRemoveGroupMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		userSub := c.Param("userSub")
		audit.Annotate(c, "group.member.remove", "group", key)
		if err := d.Store.RemoveUserFromGroup(c.Request.Context(), userSub, key); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"removed": true})
	}
}

// -- organizations --

type organizationRequestDTO struct {
	Name     string `json:"name" validate:"required"`
	Slug     string `json:"slug" validate:"required"`
	ForceOTP bool   `json:"forceOtp"`
}

func (d *Dependencies) handleAdminListOrganizations() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgs, err := d.Store.ListOrganizations(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"organizations": orgs})
	}
}

func (d *Dependencies) handleAdminCreateOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req organizationRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		o := &models.Organization{OrgID: uuid.NewString(), Name: req.Name, Slug: req.Slug, ForceOTP: req.ForceOTP}
		audit.Annotate(c, "organization.create", "organization", o.OrgID)
		if err := d.Store.CreateOrganization(c.Request.Context(), o); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusCreated, o)
	}
}

func (d *Dependencies) handleAdminUpdateOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req organizationRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		orgID := c.Param("orgId")
		audit.Annotate(c, "organization.update", "organization", orgID)
		o := &models.Organization{OrgID: orgID, Name: req.Name, Slug: req.Slug, ForceOTP: req.ForceOTP}
		if err := d.Store.UpdateOrganization(c.Request.Context(), o); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, o)
	}
}

type organizationMemberRequestDTO struct {
	UserSub string `json:"userSub" validate:"required"`
	RoleID  string `json:"roleId" validate:"required"`
}

func (d *Dependencies) handleAdminSetOrganizationMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req organizationMemberRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		orgID := c.Param("orgId")
		audit.Annotate(c, "organization.member.set", "organization", orgID)
		if err := d.Store.AssignUserToOrganizationRole(c.Request.Context(), req.UserSub, orgID, req.RoleID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"assigned": true})
	}
}

// -- roles --

type roleRequestDTO struct {
	Key  string `json:"key" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (d *Dependencies) handleAdminListRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := d.Store.ListRoles(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"roles": roles})
	}
}

func (d *Dependencies) handleAdminCreateRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		r := &models.Role{RoleID: uuid.NewString(), Key: req.Key, Name: req.Name}
		audit.Annotate(c, "role.create", "role", r.RoleID)
		if err := d.Store.CreateRole(c.Request.Context(), r); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusCreated, r)
	}
}

// -- permissions --

type permissionRequestDTO struct {
	Key         string `json:"key" validate:"required"`
	Description string `json:"description"`
}

func (d *Dependencies) handleAdminListPermissions() gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, err := d.Store.ListPermissions(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"permissions": perms})
	}
}

func (d *Dependencies) handleAdminCreatePermission() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req permissionRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		p := &models.Permission{Key: req.Key, Description: req.Description}
		audit.Annotate(c, "permission.create", "permission", p.Key)
		if err := d.Store.CreatePermission(c.Request.Context(), p); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusCreated, p)
	}
}
