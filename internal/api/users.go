package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/response"
)

type userDTO struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

type userListResponseDTO struct {
	Users []userDTO `json:"users"`
	Total int       `json:"total"`
}

// handleListUsers serves the directory lookup gated by darkauth.users:read.
func (d *Dependencies) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if offset < 0 {
			offset = 0
		}

		users, total, err := d.Store.ListUsers(c.Request.Context(), limit, offset)
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

// handleGetUser returns a single directory entry by sub.
func (d *Dependencies) handleGetUser() gin.HandlerFunc {
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
		response.OK(c, http.StatusOK, userDTO{
			Sub:           user.Sub,
			Email:         user.Email,
			Name:          user.Name,
			EmailVerified: user.EmailVerified,
		})
	}
}
