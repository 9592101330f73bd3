package identity

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
	"github.com/luqma-backoffice/backend/pkg/response"
	"github.com/luqma-backoffice/backend/pkg/utils"
)

var errInvalidCredentials = apperr.New(apperr.Unauthenticated, "invalid_credentials", "invalid credentials")

// LoginRequest is the body for POST /auth/login. One of Email or Phone is required.
type LoginRequest struct {
	Email  string `json:"email" binding:"omitempty,email"`
	Phone  string `json:"phone"`
	Secret string `json:"secret" binding:"required"`
}

// TokenResponse is the sign-in response.
type TokenResponse struct {
	Token     string                 `json:"token"`
	Principal models.PrincipalPublic `json:"principal"`
	Claims    claims.Set             `json:"claims"`
}

// Handler handles sign-in.
type Handler struct {
	authority Authority
	tokens    *TokenIssuer
	logger    *zap.Logger
}

// NewHandler creates an identity handler.
func NewHandler(authority Authority, tokens *TokenIssuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{authority: authority, tokens: tokens, logger: logger}
}

// Login handles POST /auth/login. The issued token carries the principal's claim set as of now.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	var (
		p   *models.Principal
		err error
	)
	switch {
	case strings.TrimSpace(req.Email) != "":
		p, err = h.authority.GetPrincipalByEmail(ctx, req.Email)
	case strings.TrimSpace(req.Phone) != "":
		p, err = h.authority.GetPrincipalByPhone(ctx, strings.TrimSpace(req.Phone))
	default:
		response.Error(c, apperr.New(apperr.InvalidArgument, "contact_required", "email or phone is required"))
		return
	}
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			response.Error(c, errInvalidCredentials)
			return
		}
		h.logger.Error("login lookup failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	if p.SecretHash == "" || !utils.CheckPassword(req.Secret, p.SecretHash) {
		response.Error(c, errInvalidCredentials)
		return
	}

	token, tc, err := h.tokens.Issue(p)
	if err != nil {
		h.logger.Error("issue token failed", zap.String("uid", p.UID), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, TokenResponse{Token: token, Principal: p.ToPublic(), Claims: tc.Set()})
}
