package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/internal/server/middleware"
)

// GetGraphHandler reports the lifecycle status of one graph.
func GetGraphHandler(c echo.Context) error {
	type getGraphParams struct {
		Name string `param:"name" validate:"required"`
	}

	type getGraphResponse struct {
		Name              string `json:"name"`
		Status            string `json:"status"`
		EntityCount       int    `json:"entity_count"`
		RelationshipCount int    `json:"relationship_count"`
		Error             string `json:"error,omitempty"`
	}

	params := new(getGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	}

	app := c.(*middleware.AppContext).App
	graph, err := app.Graphs.Get(c.Request().Context(), user.Scope, params.Name)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, getGraphResponse{
		Name:              graph.Name,
		Status:            string(graph.Status),
		EntityCount:       len(graph.Entities),
		RelationshipCount: len(graph.Relationships),
		Error:             graph.Error,
	})
}

// ListGraphsHandler lists the graph names in the caller's scope.
func ListGraphsHandler(c echo.Context) error {
	type listGraphsResponse struct {
		Graphs []string `json:"graphs"`
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	}

	app := c.(*middleware.AppContext).App
	names, err := app.Graphs.ListNames(c.Request().Context(), user.Scope)
	if err != nil {
		return writeError(c, err)
	}
	if names == nil {
		names = []string{}
	}

	return c.JSON(http.StatusOK, listGraphsResponse{Graphs: names})
}
