package api

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/puzed/darkauth-sub006/internal/response"
	"github.com/puzed/darkauth-sub006/internal/store"
)

// handleAdminListAudit serves the paged, filterable audit log surface.
func (d *Dependencies) handleAdminListAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.AuditListFilter{
			ActorID:   c.Query("actorId"),
			EventType: c.Query("eventType"),
		}
		if v := c.Query("success"); v != "" {
			b, err := strconv.ParseBool(v)
			if err == nil {
				filter.Success = &b
			}
		}
		filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
		filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

		entries, err := d.Store.ListAuditEntries(c.Request.Context(), filter)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		response.OK(c, http.StatusOK, gin.H{"entries": entries})
	}
}

// handleAdminGetAuditEntry returns a single audit entry by id.
func (d *Dependencies) handleAdminGetAuditEntry() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := d.Store.GetAuditEntry(c.Request.Context(), c.Param("id"))
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}
		if entry == nil {
			response.Abort(c, response.ErrNotFound("audit entry not found"))
			return
		}
		response.OK(c, http.StatusOK, entry)
	}
}

// handleAdminExportAuditCSV streams up to 10,000 matching audit rows as
// CSV, for offline compliance review.
func (d *Dependencies) handleAdminExportAuditCSV() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.AuditListFilter{
			ActorID:   c.Query("actorId"),
			EventType: c.Query("eventType"),
			Limit:     10000,
		}
		entries, err := d.Store.ListAuditEntries(c.Request.Context(), filter)
		if err != nil {
			response.Abort(c, response.ErrServer(err.Error()))
			return
		}

		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=audit-export.csv")
		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"id", "event_type", "actor_class", "actor_id", "actor_email",
			"resource_type", "resource_id", "success", "ip", "user_agent", "timestamp"})
		for _, e := range entries {
			_ = w.Write([]string{
				e.ID, e.EventType, string(e.ActorClass), e.ActorID, e.ActorEmail,
				e.ResourceType, e.ResourceID, strconv.FormatBool(e.Success), e.IP, e.UserAgent,
				e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		w.Flush()
	}
}
