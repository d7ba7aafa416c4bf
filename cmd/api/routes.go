package main

import (
	"context"
	"log/slog"
	"net/http"

	"amd-platform/internal/audit"
	"amd-platform/internal/auth"
	"amd-platform/internal/calls"
	"amd-platform/internal/httpapi"
	"amd-platform/internal/metrics"
	"amd-platform/internal/rbac"
	"amd-platform/internal/reporting"
	"amd-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	log       *slog.Logger
	metrics   *metrics.Recorder
	auth      *auth.Manager
	operator  *auth.Directory
	webhooks  telephony.WebhookHandler
	calls     httpapi.CallPlacer
	simulator httpapi.CallSimulator
	store     calls.Repository
	reports   *reporting.Service
	audit     *audit.Service
	labels    *reporting.StaticLabels
	health    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := d.health(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Provider webhooks (public). Twilio callbacks are signature-checked when enabled.
	r.POST("/webhooks/twilio", d.webhooks.HandleTwilio)
	r.POST("/webhooks/sip/amd", d.webhooks.HandleSIPAMD)
	r.POST("/webhooks/sip/status", d.webhooks.HandleSIPStatus)

	ah := auth.Handler{Manager: d.auth, Operators: d.operator}
	r.POST("/v1/auth/login", ah.Login)
	r.POST("/v1/auth/refresh", ah.Refresh)

	h := httpapi.Handlers{
		Calls:     d.calls,
		Simulator: d.simulator,
		Store:     d.store,
		Reports:   d.reports,
		Audit:     d.audit,
		Labels:    d.labels,
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		read := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAnalyst)
		write := rbac.RequireAnyRole(rbac.RoleOperator)

		v1.POST("/calls", write, h.CreateCall)
		v1.POST("/calls/:id/hangup", write, h.HangupCall)
		v1.GET("/calls", read, h.ListCalls)
		v1.GET("/calls/export", read, h.ExportCalls)
		v1.GET("/calls/:id", read, h.GetCall)
		v1.PUT("/calls/:id/label", read, h.LabelCall)

		v1.GET("/analytics", read, h.Analytics)
		v1.GET("/comparison", read, h.Comparison)
		v1.GET("/stream/calls", read, h.StreamCalls)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.DELETE("/calls", h.ClearCalls)
			admin.GET("/audit", h.ListAudit)
			admin.POST("/calls/:id/simulate-completion", h.SimulateCall)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	d.log.Debug("routes registered", "count", len(r.Routes()))
}
