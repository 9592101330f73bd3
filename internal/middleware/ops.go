package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/luqma-backoffice/backend/pkg/response"
)

// HeaderOpsToken carries the operator credential for maintenance endpoints.
const HeaderOpsToken = "X-Ops-Token"

// RequireOpsToken allows only requests presenting the configured operator token. A missing
// header is 401, a wrong token 403. An empty configured token disables the guarded routes.
func RequireOpsToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderOpsToken))
		switch {
		case len(expected) == 0:
			response.Forbidden(c, "ops_token_invalid")
		case len(got) == 0:
			response.Unauthorized(c, "ops_token_required")
		case subtle.ConstantTimeCompare(got, expected) != 1:
			response.Forbidden(c, "ops_token_invalid")
		default:
			c.Next()
			return
		}
		c.Abort()
	}
}
