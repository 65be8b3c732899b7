package routes

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/internal/server/middleware"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/query"
)

// QueryGraphHandler answers synchronous read queries against a
// completed graph. graph_name may be omitted when the scope holds
// exactly one graph.
func QueryGraphHandler(c echo.Context) error {
	type queryBody struct {
		GraphName  string   `json:"graph_name"`
		QueryType  string   `json:"query_type" validate:"required"`
		StartNodes []string `json:"start_nodes" validate:"required"`
		MaxDepth   *int     `json:"max_depth"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	name := data.GraphName
	if name == "" {
		names, err := app.Graphs.ListNames(ctx, user.Scope)
		if err != nil {
			return writeError(c, err)
		}
		if len(names) != 1 {
			return writeError(c, fmt.Errorf("graph_name is required when the scope holds %d graphs: %w", len(names), common.ErrValidation))
		}
		name = names[0]
	}

	engine := query.New(query.Params{Graphs: app.Graphs, AIClient: app.AiClient})

	switch data.QueryType {
	case "list_entities":
		if len(data.StartNodes) != 1 {
			return writeError(c, fmt.Errorf("list_entities takes exactly one start node: %w", common.ErrValidation))
		}
		matches, err := engine.ListEntities(ctx, user.Scope, name, data.StartNodes[0])
		if err != nil {
			return writeError(c, err)
		}
		if matches == nil {
			matches = []query.EntityMatch{}
		}
		return c.JSON(http.StatusOK, map[string]any{"entities": matches})

	case "entity":
		if len(data.StartNodes) != 1 {
			return writeError(c, fmt.Errorf("entity takes exactly one start node: %w", common.ErrValidation))
		}
		result, err := engine.Entity(ctx, user.Scope, name, data.StartNodes[0])
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	case "path":
		if len(data.StartNodes) != 2 {
			return writeError(c, fmt.Errorf("path takes exactly two start nodes: %w", common.ErrValidation))
		}
		paths, err := engine.Paths(ctx, user.Scope, name, data.StartNodes[0], data.StartNodes[1], data.MaxDepth)
		if err != nil {
			return writeError(c, err)
		}
		if paths == nil {
			paths = [][]string{}
		}
		return c.JSON(http.StatusOK, map[string]any{"paths": paths})

	case "subgraph":
		if len(data.StartNodes) != 1 {
			return writeError(c, fmt.Errorf("subgraph takes exactly one start node: %w", common.ErrValidation))
		}
		result, err := engine.Subgraph(ctx, user.Scope, name, data.StartNodes[0], data.MaxDepth)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	default:
		return writeError(c, fmt.Errorf("unknown query_type %q: %w", data.QueryType, common.ErrValidation))
	}
}
