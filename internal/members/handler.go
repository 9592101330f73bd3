package members

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/middleware"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/response"
)

// InviteMemberRequest is the body for POST /businesses/:businessId/members.
type InviteMemberRequest struct {
	Role        string `json:"role" binding:"required"`
	Email       string `json:"email" binding:"omitempty,email"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName"`
	Secret      string `json:"secret"`
}

// ResetCredentialRequest is the optional body for POST .../members/:uid/credential.
type ResetCredentialRequest struct {
	Secret string `json:"secret"`
}

// UpdateProfileRequest is the body for PATCH .../members/me. Any other field is rejected.
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName"`
}

// Handler exposes the membership lifecycle over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a members handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the member routes on a group already guarded by middleware.JWT.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/businesses/:businessId/members", h.List)
	g.POST("/businesses/:businessId/members", h.Invite)
	g.PATCH("/businesses/:businessId/members/me", h.UpdateOwnProfile)
	g.DELETE("/businesses/:businessId/members/:uid", h.Remove)
	g.POST("/businesses/:businessId/members/:uid/credential", h.ResetCredential)
}

// List handles GET /businesses/:businessId/members.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), callerFrom(c), c.Param("businessId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Invite handles POST /businesses/:businessId/members.
func (h *Handler) Invite(c *gin.Context) {
	caller, ok := adminCaller(c)
	if !ok {
		return
	}
	var req InviteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.svc.Invite(c.Request.Context(), caller, InviteRequest{
		BusinessID:  c.Param("businessId"),
		Role:        models.Role(req.Role),
		Email:       req.Email,
		Phone:       req.Phone,
		DisplayName: req.DisplayName,
		Secret:      req.Secret,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.IsNewPrincipal {
		response.Created(c, res)
		return
	}
	response.OK(c, res)
}

// Remove handles DELETE /businesses/:businessId/members/:uid?purge=true.
func (h *Handler) Remove(c *gin.Context) {
	purge, _ := strconv.ParseBool(c.DefaultQuery("purge", "false"))
	if err := h.svc.Remove(c.Request.Context(), callerFrom(c), c.Param("businessId"), c.Param("uid"), purge); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ResetCredential handles POST /businesses/:businessId/members/:uid/credential.
func (h *Handler) ResetCredential(c *gin.Context) {
	caller, ok := adminCaller(c)
	if !ok {
		return
	}
	var req ResetCredentialRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	res, err := h.svc.ResetCredential(c.Request.Context(), caller, c.Param("businessId"), c.Param("uid"), req.Secret)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// UpdateOwnProfile handles PATCH /businesses/:businessId/members/me.
func (h *Handler) UpdateOwnProfile(c *gin.Context) {
	var req UpdateProfileRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.UpdateOwnProfile(c.Request.Context(), callerFrom(c), c.Param("businessId"), req.DisplayName); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func callerFrom(c *gin.Context) Caller {
	tc := c.MustGet(middleware.ContextClaims).(*identity.TokenClaims)
	return Caller{UID: tc.UID(), Claims: tc.Set()}
}

// adminCaller authorizes the caller for the path's business before the body is read, so a
// non-admin is refused the same way whatever it sent.
func adminCaller(c *gin.Context) (Caller, bool) {
	caller := callerFrom(c)
	if err := authorizeAdmin(caller, strings.TrimSpace(c.Param("businessId"))); err != nil {
		response.Error(c, err)
		return Caller{}, false
	}
	return caller, true
}
