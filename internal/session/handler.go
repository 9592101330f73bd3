package session

import (
	"github.com/gin-gonic/gin"

	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/middleware"
	"github.com/luqma-backoffice/backend/pkg/response"
)

// Handler serves the session state of the presented token.
type Handler struct {
	resolver Resolver
}

// NewHandler creates a session handler.
func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Response is the body of GET /session.
type Response struct {
	UID string `json:"uid"`
	Resolution
}

// Get handles GET /session?business=. Terminal states are reported with 200; the client decides.
func (h *Handler) Get(c *gin.Context) {
	tc := c.MustGet(middleware.ContextClaims).(*identity.TokenClaims)
	response.OK(c, Response{
		UID:        tc.UID(),
		Resolution: h.resolver.Resolve(tc.Set(), c.Query("business")),
	})
}
