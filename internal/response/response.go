// Package response defines the JSON envelope every DarkAuth HTTP handler
// replies with, and the typed Error a central Abort maps to an HTTP status.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorDetail carries the machine-readable error taxonomy handlers report.
type ErrorDetail struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Envelope is the unified response shape for all APIs.
type Envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data"`
	Error   *ErrorDetail           `json:"error"`
	Meta    map[string]interface{} `json:"meta"`
}

// OK writes a 2xx success envelope.
func OK(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, Envelope{Success: true, Message: "ok", Data: data, Meta: map[string]interface{}{}})
}

// Error is the typed error that maps to an HTTP status; handlers return it
// and a central mapper (see Abort) does the rest.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func ErrValidation(msg string) *Error {
	return newError(http.StatusBadRequest, "validation_error", msg)
}
func ErrUnauthorized(msg string) *Error {
	if msg == "" {
		msg = "authentication failed"
	}
	return newError(http.StatusUnauthorized, "unauthorized", msg)
}
func ErrForbidden(code, msg string) *Error {
	if code == "" {
		code = "forbidden"
	}
	return newError(http.StatusForbidden, code, msg)
}
func ErrNotFound(msg string) *Error { return newError(http.StatusNotFound, "not_found", msg) }
func ErrConflict(msg string) *Error { return newError(http.StatusConflict, "conflict", msg) }
func ErrRateLimited(msg string) *Error {
	return newError(http.StatusTooManyRequests, "rate_limited", msg)
}
func ErrOAuth(status int, code, msg string) *Error { return newError(status, code, msg) }
func ErrServer(msg string) *Error {
	return newError(http.StatusInternalServerError, "server_error", msg)
}

// Abort writes err as a JSON error envelope and stops the gin chain. Every
// handler in internal/api funnels its failures here so the audit middleware
// can read the outcome back off the context.
func Abort(c *gin.Context, err *Error) {
	c.Header("Cache-Control", "no-store")
	c.Set("darkauth.error", err)
	c.AbortWithStatusJSON(err.Status, Envelope{
		Success: false,
		Message: err.Message,
		Error:   &ErrorDetail{Code: err.Code, Description: err.Message},
		Meta:    map[string]interface{}{},
	})
}
