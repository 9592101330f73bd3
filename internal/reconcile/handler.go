package reconcile

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/luqma-backoffice/backend/pkg/response"
)

// Handler exposes the job to operators. Mount it behind middleware.RequireOpsToken.
type Handler struct {
	job         *Job
	concurrency int
}

// NewHandler creates an operator handler.
func NewHandler(job *Job, concurrency int) *Handler {
	return &Handler{job: job, concurrency: concurrency}
}

// Register mounts the operator routes.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/reconcile", h.Reconcile)
	g.GET("/claims/:uid", h.Inspect)
	g.POST("/claims/:uid/resync", h.Resync)
}

// Reconcile handles POST /ops/reconcile?dry_run=&archive=.
func (h *Handler) Reconcile(c *gin.Context) {
	dryRun, err := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	if err != nil {
		response.BadRequest(c, "dry_run must be a boolean")
		return
	}
	archive, _ := strconv.ParseBool(c.DefaultQuery("archive", "false"))
	report, err := h.job.Run(c.Request.Context(), Options{DryRun: dryRun, Concurrency: h.concurrency, Archive: archive})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Inspect handles GET /ops/claims/:uid.
func (h *Handler) Inspect(c *gin.Context) {
	in, err := h.job.Inspect(c.Request.Context(), c.Param("uid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, in)
}

// Resync handles POST /ops/claims/:uid/resync.
func (h *Handler) Resync(c *gin.Context) {
	res, err := h.job.ReconcilePrincipal(c.Request.Context(), c.Param("uid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
