package routes

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/internal/queue"
	"github.com/loomgraph/loom/internal/server/middleware"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/docstore"
	"github.com/loomgraph/loom/pkg/logger"
)

// UpdateGraphHandler requeues a terminal graph with additional
// documents and enqueues an incremental build over the new ones.
func UpdateGraphHandler(c echo.Context) error {
	type updateGraphBody struct {
		Name            string               `param:"name" validate:"required"`
		DocumentIDs     []string             `json:"document_ids"`
		DocumentFilter  *docstore.Filter     `json:"document_filter"`
		PromptOverrides *common.PromptConfig `json:"prompt_overrides"`
	}

	type updateGraphResponse struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}

	data := new(updateGraphBody)
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

	graph, err := app.Graphs.Get(ctx, user.Scope, data.Name)
	if err != nil {
		return writeError(c, err)
	}

	requested := slices.Clone(data.DocumentIDs)
	if data.DocumentFilter != nil && !data.DocumentFilter.Empty() {
		resolved, err := app.Docs.ResolveFilter(ctx, user.Scope, *data.DocumentFilter)
		if err != nil {
			logger.Error("[Server] Failed to resolve document filter", "err", err)
			return writeError(c, err)
		}
		for _, id := range resolved {
			if !slices.Contains(requested, id) {
				requested = append(requested, id)
			}
		}
	}

	// Only documents the graph has not seen yet are worth extracting
	// again. An empty remainder is still a valid no-op update.
	addedIDs := make([]string, 0, len(requested))
	for _, id := range requested {
		if !slices.Contains(graph.DocumentIDs, id) {
			addedIDs = append(addedIDs, id)
		}
	}

	if data.PromptOverrides != nil {
		if err := data.PromptOverrides.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}

	if err := app.Graphs.Requeue(ctx, user.Scope, data.Name, addedIDs, data.PromptOverrides); err != nil {
		return writeError(c, err)
	}

	msg, _ := json.Marshal(queue.GraphJobMsg{
		Scope:       user.Scope,
		Name:        data.Name,
		DocumentIDs: addedIDs,
		Operation:   queue.OperationUpdate,
	})
	if err := queue.PublishFIFO(app.Queue, queue.UpdateQueue, msg); err != nil {
		logger.Error("[Server] Failed to publish update job", "graph", data.Name, "err", err)
		if terr := app.Graphs.Transition(ctx, user.Scope, data.Name, common.StatusFailed, "failed to enqueue update"); terr != nil {
			logger.Error("[Server] Failed to mark graph failed", "graph", data.Name, "err", terr)
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, updateGraphResponse{
		Name:   data.Name,
		Status: string(common.StatusQueued),
	})
}
