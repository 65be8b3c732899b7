package server

import (
	"github.com/loomgraph/loom/internal/server/middleware"
	"github.com/loomgraph/loom/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Graph lifecycle routes
	apiRoutes.GET("/graphs", routes.ListGraphsHandler)
	apiRoutes.POST("/graphs", routes.CreateGraphHandler)
	apiRoutes.GET("/graphs/:name", routes.GetGraphHandler)
	apiRoutes.PATCH("/graphs/:name", routes.UpdateGraphHandler)
	apiRoutes.DELETE("/graphs/:name", routes.DeleteGraphHandler)

	// Query routes
	apiRoutes.POST("/query", routes.QueryGraphHandler)
}
