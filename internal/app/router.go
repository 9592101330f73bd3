package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/config"
	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/members"
	"github.com/luqma-backoffice/backend/internal/metrics"
	"github.com/luqma-backoffice/backend/internal/middleware"
	"github.com/luqma-backoffice/backend/internal/realtime"
	"github.com/luqma-backoffice/backend/internal/reconcile"
	"github.com/luqma-backoffice/backend/internal/session"
	"github.com/luqma-backoffice/backend/pkg/response"
)

// Server is the wired HTTP application.
type Server struct {
	Router  *gin.Engine
	Tokens  *identity.TokenIssuer
	Guard   *identity.SessionGuard
	Hub     *realtime.Hub
	Members *members.Service
	Job     *reconcile.Job
}

// NewServer wires handlers onto a gin engine.
func NewServer(cfg *config.Config, b *Backends, logger *zap.Logger) *Server {
	tokens := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.ExpireHours)
	guard := identity.NewSessionGuard(b.Authority, b.Revocations, cfg.Sessions.CacheSize, cfg.Sessions.RevocationCacheTTL, logger)
	hub := b.Hub()
	guard.SetNotifier(hub)

	svc := members.NewService(b.Store, b.Authority, b.Synchronizer(claims.WithNotifier(hub)), guard, b.Repairs(), logger)
	job := b.ReconcileJob()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := b.Healthy(ctx); err != nil {
			response.ServiceUnavailable(c, "unhealthy")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	router.POST("/auth/login", identity.NewHandler(b.Authority, tokens, logger).Login)

	// Protected API (JWT + revocation check)
	api := router.Group("/")
	api.Use(middleware.JWT(tokens, guard))
	{
		api.GET("/session", session.NewHandler(session.Resolver{DefaultBusinessID: cfg.Client.DefaultBusinessID}).Get)
		members.NewHandler(svc, logger).Register(api)
		api.GET("/ws", realtime.ServeWs(hub, logger))
	}

	// Operator API
	ops := router.Group("/ops")
	ops.Use(middleware.RequireOpsToken(cfg.Ops.Token))
	reconcile.NewHandler(job, cfg.Reconcile.Concurrency).Register(ops)

	return &Server{Router: router, Tokens: tokens, Guard: guard, Hub: hub, Members: svc, Job: job}
}
