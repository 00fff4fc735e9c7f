package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// handleAdminListUsers is the admin-surface counterpart of the user-facing
// directory lookup; same store method, no permission-key gate beyond the
// admin session itself.
func (d *Dependencies) handleAdminListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, total, err := d.Store.ListUsers(c.Request.Context(), 100, 0)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		out := make([]userDTO, len(users))
		for i, u := range users {
			out[i] = userDTO{Sub: u.Sub, Email: u.Email, Name: u.Name, EmailVerified: u.EmailVerified}
		}
		response.OK(c, http.StatusOK, userListResponseDTO{Users: out, Total: total})
	}
}

// handleAdminGetUser returns a single end-user record by sub.
func (d *Dependencies) handleAdminGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := d.Store.GetUserBySub(c.Request.Context(), c.Param("sub"))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if user == nil {
			response.Abort(c, response.ErrNotFound("user not found"))
			return
		}
		response.OK(c, http.StatusOK, userDTO{Sub: user.Sub, Email: user.Email, Name: user.Name, EmailVerified: user.EmailVerified})
	}
}

// handleAdminDeleteUser removes an end-user; the schema's ON DELETE CASCADE
// removes their envelope, DRK material, and RBAC assignments, and their
// sessions (which carry no foreign key) are revoked explicitly.
func (d *Dependencies) handleAdminDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Param("sub")
		ctx := c.Request.Context()
		audit.Annotate(c, "user.delete", "user", sub)
		if err := d.Store.DeleteUser(ctx, sub); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if err := d.Sessions.RevokeAllForPrincipal(ctx, models.ActorUser, sub); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"deleted": true})
	}
}

// handleAdminUserOTPStatus reports an end-user's OTP enrollment state for
// the admin support surface.
func (d *Dependencies) handleAdminUserOTPStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Param("sub")
		enrollment, err := d.Store.GetOTPEnrollment(c.Request.Context(), models.ActorUser, sub)
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

// handleAdminResetUserOTP clears an end-user's OTP enrollment, used when a
// user loses their authenticator device.
func (d *Dependencies) handleAdminResetUserOTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Param("sub")
		audit.Annotate(c, "user.otp.reset", "user", sub)
		if err := d.Store.DeleteOTPEnrollment(c.Request.Context(), models.ActorUser, sub); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"reset": true})
	}
}

// -- admin-of-admins --

type adminDTO struct {
	AdminID string `json:"adminId"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

func toAdminDTO(a *models.Admin) adminDTO {
	return adminDTO{AdminID: a.AdminID, Email: a.Email, Name: a.Name, Role: string(a.Role)}
}

// handleAdminListAdmins lists every administrator.
func (d *Dependencies) handleAdminListAdmins() gin.HandlerFunc {
	return func(c *gin.Context) {
		admins, err := d.Store.ListAdmins(c.Request.Context())
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		out := make([]adminDTO, len(admins))
		for i, a := range admins {
			out[i] = toAdminDTO(a)
		}
		response.OK(c, http.StatusOK, gin.H{"admins": out})
	}
}

type adminRoleRequestDTO struct {
	Role string `json:"role" validate:"required,oneof=read write"`
}

// handleAdminUpdateAdminRole changes another administrator's role; an admin
// may not change their own role, since that could strand the deployment
// without a write admin.
func (d *Dependencies) handleAdminUpdateAdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adminRoleRequestDTO
		if !bindJSON(c, &req) {
			return
		}
		targetID := c.Param("adminId")
		caller := c.MustGet("darkauth.admin").(*models.Admin)
		if caller.AdminID == targetID {
			response.Abort(c, response.ErrForbidden("self_modification", "an admin cannot change their own role"))
			return
		}
		audit.Annotate(c, "admin.role.update", "admin", targetID)
		if err := d.Store.UpdateAdminRole(c.Request.Context(), targetID, models.AdminRole(req.Role)); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"updated": true})
	}
}

// handleAdminDeleteAdmin removes an administrator, refusing self-deletion
// and refusing to remove the last remaining administrator.
func (d *Dependencies) handleAdminDeleteAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID := c.Param("adminId")
		caller := c.MustGet("darkauth.admin").(*models.Admin)
		if caller.AdminID == targetID {
			response.Abort(c, response.ErrForbidden("self_deletion", "an admin cannot delete themselves"))
			return
		}
		ctx := c.Request.Context()
		count, err := d.Store.CountAdmins(ctx)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if count <= 1 {
			response.Abort(c, response.ErrConflict("cannot delete the last remaining admin"))
			return
		}
		audit.Annotate(c, "admin.delete", "admin", targetID)
		if err := d.Store.DeleteAdmin(ctx, targetID); err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"deleted": true})
	}
}
