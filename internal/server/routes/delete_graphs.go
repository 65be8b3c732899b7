package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/internal/queue"
	"github.com/loomgraph/loom/internal/server/middleware"
	"github.com/loomgraph/loom/pkg/logger"
)

// DeleteGraphHandler removes a graph and all its content. The store
// delete is synchronous; a delete job is still published so workers
// can drop any build messages that are already in flight for the name.
func DeleteGraphHandler(c echo.Context) error {
	type deleteGraphParams struct {
		Name string `param:"name" validate:"required"`
	}

	type deleteGraphResponse struct {
		Message string `json:"message"`
	}

	params := new(deleteGraphParams)
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

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if err := app.Graphs.Delete(ctx, user.Scope, params.Name); err != nil {
		return writeError(c, err)
	}

	msg, _ := json.Marshal(queue.GraphJobMsg{
		Scope:     user.Scope,
		Name:      params.Name,
		Operation: queue.OperationDelete,
	})
	if err := queue.PublishFIFO(app.Queue, queue.DeleteQueue, msg); err != nil {
		logger.Error("[Server] Failed to publish delete job", "graph", params.Name, "err", err)
	}

	return c.JSON(http.StatusOK, deleteGraphResponse{Message: "Graph deleted"})
}
