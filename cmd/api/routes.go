package main

import (
	"net/http"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/httpapi"
	"donor-dialer/internal/rbac"
	"donor-dialer/internal/telephony"
	"donor-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Twilio callbacks are signature-checked when
	// TWILIO_AUTH_TOKEN is set.
	{
		wh := telephony.WebhookHandler{
			Ingester:        a.Orchestrator,
			TwilioAuthToken: a.Config.Twilio.AuthToken,
			PublicBaseURL:   a.Config.Twilio.PublicBaseURL,
		}
		r.POST("/webhooks/voice/events", wh.HandleVoiceEvents)
		r.POST("/webhooks/twilio/status", wh.HandleTwilioStatus)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		h := httpapi.Handlers{
			Runs:    a.Runner,
			Reports: a.Reports,
		}

		v1.GET("/me", h.Me)

		// RUN routes: platform operators, plus the hidden service role used by
		// external schedulers.
		runs := v1.Group("")
		runs.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleService)...)
		{
			runs.POST("/dispatch/run", h.RunDispatch)
			runs.POST("/sync/run", h.RunSync)
		}

		// CAMPAIGNS routes
		campaigns := v1.Group("/campaigns")
		campaigns.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleOwner, rbac.RoleAnalyst)...)
		{
			campaigns.GET("/:campaign_id/summary", h.CampaignSummary)
		}
	}
}
