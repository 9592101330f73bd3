package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luqma-backoffice/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with a localized invalid_request message and the decoder detail.
func BadRequest(c *gin.Context, detail string) {
	msg := Message(c, "invalid_request")
	if detail != "" {
		msg += ": " + detail
	}
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: msg, Code: "invalid_request"})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, code string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: Message(c, code), Code: code})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, code string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: Message(c, code), Code: code})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Error maps err's kind to a status and its code to a localized message.
// Internal causes are never sent to the client.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code := apperr.CodeOf(err)
	if kind == apperr.Internal {
		code = "internal"
	}
	_ = c.Error(err)
	c.JSON(Status(kind), Body{Success: false, Error: Message(c, code), Code: code})
}

// Status returns the HTTP status for an error kind.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
