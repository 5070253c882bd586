package main

import (
	"hotcalls-core/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal
// modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h *httpapi.Handlers, quota gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Call-outcome reports from the call-handling layer (public path).
	// NOTE: must be protected by provider signature validation or network
	// policy in production.
	r.POST("/webhooks/calls/outcome", h.ReportOutcome)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// USAGE routes (dashboards).
		v1.GET("/usage/:feature", h.UsageStatus)

		// Metered routes: the quota middleware resolves
		// "<METHOD> <route>" through the route→feature map; unmapped
		// routes pass for free.
		calls := v1.Group("/calls")
		calls.Use(quota)
		{
			// Dial orchestration belongs to the telephony collaborator;
			// this core meters the request and claims the live-call slot.
			calls.POST("/start", h.StartCall)
		}

		agents := v1.Group("/agents")
		agents.Use(quota)
		{
			agents.POST("", func(c *gin.Context) {
				c.AbortWithStatusJSON(501, gin.H{"error": "agent provisioning not wired (owned by the admin service)"})
			})
		}
	}
}
