// Package audit wraps every mutating operation with an append-only log
// entry: every mutation whose handler returned 2xx produces a success=true
// entry, and every 4xx/5xx produces success=false, each carrying the
// actor's id.
package audit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/puzed/darkauth-sub006/internal/models"
	"github.com/puzed/darkauth-sub006/internal/response"
)

// Store is the persistence surface audit needs.
type Store interface {
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error
}

// Logger wraps a Store with the request-context plumbing every handler uses.
type Logger struct {
	store Store
	log   *zap.SugaredLogger
}

// New constructs a Logger.
func New(store Store, log *zap.SugaredLogger) *Logger {
	return &Logger{store: store, log: log}
}

// Write builds and persists an audit entry. success and details come from
// the handler's own knowledge of the outcome; Middleware below covers the
// common case of inferring them from the HTTP response.
func (l *Logger) Write(ctx context.Context, eventType string, actorClass models.ActorClass, actorID, actorEmail, resourceType, resourceID string, success bool, ip, ua string, details map[string]interface{}) {
	entry := &models.AuditEntry{
		EventType:    eventType,
		ActorClass:   actorClass,
		ActorID:      actorID,
		ActorEmail:   actorEmail,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
		IP:           ip,
		UserAgent:    ua,
		Details:      details,
	}
	if err := l.store.InsertAuditEntry(ctx, entry); err != nil && l.log != nil {
		l.log.Errorw("write audit entry", "event_type", eventType, "error", err)
	}
}

// contextKey avoids collisions on gin.Context's shared key/value store.
type contextKey string

const (
	keyEventType    contextKey = "darkauth.audit.event_type"
	keyResourceType contextKey = "darkauth.audit.resource_type"
	keyResourceID   contextKey = "darkauth.audit.resource_id"
	keyActorClass   contextKey = "darkauth.audit.actor_class"
	keyActorID      contextKey = "darkauth.audit.actor_id"
	keyActorEmail   contextKey = "darkauth.audit.actor_email"
)

// Annotate lets a handler declare what resource it mutated and who the
// acting principal is, read back by Middleware after the handler returns.
func Annotate(c *gin.Context, eventType, resourceType, resourceID string) {
	c.Set(string(keyEventType), eventType)
	c.Set(string(keyResourceType), resourceType)
	c.Set(string(keyResourceID), resourceID)
}

// SetActor records the acting principal, called once auth middleware (or the
// handler itself, for pre-session flows like OPAQUE registration) knows it.
func SetActor(c *gin.Context, actorClass models.ActorClass, actorID, actorEmail string) {
	c.Set(string(keyActorClass), actorClass)
	c.Set(string(keyActorID), actorID)
	c.Set(string(keyActorEmail), actorEmail)
}

// Middleware wraps every mutating route (anything but GET, HEAD and
// OPTIONS) with an audit write inferred from the final response status, so
// individual handlers only declare what they touched via Annotate rather
// than each calling Write; a mutation that never reached Annotate (e.g. one
// rejected by a guard) is recorded under its method and route.
func (l *Logger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		eventType, ok := c.Get(string(keyEventType))
		if !ok {
			eventType = c.Request.Method + " " + c.FullPath()
		}
		success := c.Writer.Status() < 400
		var errCode string
		if v, ok := c.Get("darkauth.error"); ok {
			if e, ok := v.(*response.Error); ok {
				errCode = e.Code
			}
		}
		actorClass, _ := c.Get(string(keyActorClass))
		actorID, _ := c.Get(string(keyActorID))
		actorEmail, _ := c.Get(string(keyActorEmail))
		resourceType, _ := c.Get(string(keyResourceType))
		resourceID, _ := c.Get(string(keyResourceID))

		details := map[string]interface{}{}
		if errCode != "" {
			details["error_code"] = errCode
		}

		ac, _ := actorClass.(models.ActorClass)
		ai, _ := actorID.(string)
		ae, _ := actorEmail.(string)
		rt, _ := resourceType.(string)
		rid, _ := resourceID.(string)

		l.Write(c.Request.Context(), eventType.(string), ac, ai, ae, rt, rid, success,
			c.ClientIP(), c.Request.UserAgent(), details)
	}
}
