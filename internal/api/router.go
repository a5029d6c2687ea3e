package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(e *echo.Echo, h *Handlers, hh *HealthHandlers, agentPublicJWK string) {
	// Health check and metrics endpoints (no middleware)
	e.GET("/health", hh.Health)
	e.GET("/health/ready", hh.Readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Apply middleware to all other routes
	e.Use(RequestIDMiddleware())
	e.Use(MetricsMiddleware())
	e.Use(SecurityHeadersMiddleware())

	limits := NewRateLimiterConfig()
	bodyLimits := DefaultBodyLimitConfig()

	// JSON API routes - v1
	api := e.Group("/api/v1", AgentAuthMiddleware(agentPublicJWK))

	// Session lifecycle
	sessions := api.Group("/sessions", NewBodyLimitMiddleware(bodyLimits.SessionAPI))
	sessions.POST("", h.CreateSession, limits.SessionCreation.Middleware())
	sessions.GET("/:id", h.GetSession, limits.GeneralAPI.Middleware())
	sessions.DELETE("/:id", h.DeleteSession, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/start", h.StartSession, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/location/skip", h.SkipLocation, limits.GeneralAPI.Middleware())

	// Interview flow
	sessions.POST("/:id/answers", h.SubmitAnswer, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/next", h.Next, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/previous", h.Previous, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/pause", h.Pause, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/resume", h.Resume, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/complete", h.Complete, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/abandon", h.Abandon, limits.GeneralAPI.Middleware())

	// Telephone call control
	sessions.POST("/:id/call", h.Dial, limits.GeneralAPI.Middleware())
	sessions.POST("/:id/call/failed", h.MarkCallFailed, limits.GeneralAPI.Middleware())

	// Device feeds from the field client
	device := api.Group("/sessions/:id/device", limits.DeviceFeed.Middleware())
	device.POST("/location", h.PushLocationFix, NewBodyLimitMiddleware(bodyLimits.SessionAPI))
	device.POST("/audio", h.PushAudioChunk, NewBodyLimitMiddleware(bodyLimits.AudioChunk))

	// Live snapshot stream
	api.GET("/sessions/:id/events", h.Events)

	// Supervisor dashboard counters
	api.GET("/stats", h.GetStats, limits.GeneralAPI.Middleware())
}
