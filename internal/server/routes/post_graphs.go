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

// CreateGraphHandler registers a new graph and enqueues its build.
func CreateGraphHandler(c echo.Context) error {
	type createGraphBody struct {
		Name            string               `json:"name" validate:"required"`
		DocumentIDs     []string             `json:"document_ids"`
		DocumentFilter  *docstore.Filter     `json:"document_filter"`
		PromptOverrides *common.PromptConfig `json:"prompt_overrides"`
	}

	type createGraphResponse struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}

	data := new(createGraphBody)
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

	documentIDs := slices.Clone(data.DocumentIDs)
	if data.DocumentFilter != nil && !data.DocumentFilter.Empty() {
		resolved, err := app.Docs.ResolveFilter(ctx, user.Scope, *data.DocumentFilter)
		if err != nil {
			logger.Error("[Server] Failed to resolve document filter", "err", err)
			return writeError(c, err)
		}
		for _, id := range resolved {
			if !slices.Contains(documentIDs, id) {
				documentIDs = append(documentIDs, id)
			}
		}
	}
	if len(documentIDs) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "No documents selected"})
	}

	var prompts common.PromptConfig
	if data.PromptOverrides != nil {
		if err := data.PromptOverrides.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		prompts = *data.PromptOverrides
	}

	graph, err := app.Graphs.Create(ctx, user.Scope, data.Name, documentIDs, prompts)
	if err != nil {
		return writeError(c, err)
	}

	msg, _ := json.Marshal(queue.GraphJobMsg{
		Scope:       user.Scope,
		Name:        graph.Name,
		DocumentIDs: documentIDs,
		Operation:   queue.OperationCreate,
	})
	if err := queue.PublishFIFO(app.Queue, queue.BuildQueue, msg); err != nil {
		logger.Error("[Server] Failed to publish build job", "graph", graph.Name, "err", err)
		if terr := app.Graphs.Transition(ctx, user.Scope, graph.Name, common.StatusFailed, "failed to enqueue build"); terr != nil {
			logger.Error("[Server] Failed to mark graph failed", "graph", graph.Name, "err", terr)
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, createGraphResponse{
		Name:   graph.Name,
		Status: string(graph.Status),
	})
}
