package server

import (
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Search and inference
	apiRoutes.POST("/search", routes.SearchHandler)
	apiRoutes.POST("/inference", routes.InferenceHandler)

	// Entity routes
	apiRoutes.GET("/entities", routes.ListEntitiesHandler)
	apiRoutes.PUT("/entities", routes.UpsertEntityHandler)
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.DELETE("/entities/:id", routes.DeactivateEntityHandler)
	apiRoutes.GET("/entities/:id/relationships", routes.GetEntityRelationshipsHandler)
	apiRoutes.GET("/entities/:id/related", routes.GetRelatedEntitiesHandler)

	// Relationship routes
	apiRoutes.PUT("/relationships", routes.UpsertRelationshipHandler)
}
