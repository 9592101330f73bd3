package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/pkg/response"
)

const (
	// ContextUserID is the key for the caller's uid in gin context.
	ContextUserID = "user_id"
	// ContextClaims is the key for the caller's *identity.TokenClaims in gin context.
	ContextClaims = "token_claims"
)

// SessionChecker decides whether a validated token is still honoured.
type SessionChecker interface {
	Check(ctx context.Context, tc *identity.TokenClaims) error
}

// JWT returns a middleware that validates the bearer token, consults the session guard and sets
// the caller in context. A token query parameter is accepted when no header is sent, for websockets.
func JWT(tokens *identity.TokenIssuer, guard SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(c, "invalid_token")
				c.Abort()
				return
			}
			raw = parts[1]
		} else {
			raw = c.Query("token")
		}
		if raw == "" {
			response.Unauthorized(c, "unauthenticated")
			c.Abort()
			return
		}
		tc, err := tokens.Validate(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if guard != nil {
			if err := guard.Check(c.Request.Context(), tc); err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
		}
		c.Set(ContextUserID, tc.UID())
		c.Set(ContextClaims, tc)
		c.Next()
	}
}
