package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/flowops/driftd/cmd/driftd/container"
	"github.com/flowops/driftd/cmd/driftd/handlers"
	"github.com/flowops/driftd/cmd/driftd/middleware"
)

// RegisterEnvironmentRoutes registers sync, reconcile, drift and matrix routes
func RegisterEnvironmentRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewEnvironmentHandler(c)

	api := e.Group("/api/v1", middleware.RequireTenant(), middleware.ExtractActor())
	{
		api.GET("/matrix", h.GetMatrix)

		api.POST("/environments/:id/sync", h.SyncEnvironment)
		api.POST("/environments/:id/reconcile", h.ReconcileEnvironment)
		api.POST("/environments/:id/drift-check", h.DetectDrift)

		api.POST("/reconcile/:source/:target", h.ReconcilePair)

		api.POST("/mappings/:id/link", h.LinkMapping)
		api.POST("/mappings/:id/ignore", h.IgnoreMapping)
	}
}

// RegisterIncidentRoutes registers incident lifecycle routes
func RegisterIncidentRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewIncidentHandler(c)

	incidents := e.Group("/api/v1/incidents", middleware.RequireTenant(), middleware.ExtractActor())
	{
		incidents.GET("", h.ListIncidents)
		incidents.POST("", h.CreateIncident)
		incidents.GET("/:id", h.GetIncident)
		incidents.PATCH("/:id", h.UpdateIncident)
		incidents.POST("/:id/transition", h.TransitionIncident)
		incidents.POST("/:id/close", h.CloseIncident)
	}
}
