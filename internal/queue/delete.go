package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/logger"
)

// ProcessDeleteJob removes a graph with all of its entities and
// relationships. A graph that is already gone counts as handled.
func ProcessDeleteJob(ctx context.Context, deps Deps, msg string) error {
	data := new(GraphJobMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}

	if err := deps.Graphs.Delete(ctx, data.Scope, data.Name); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.Warn("[Queue] Graph already deleted", "graph", data.Name, "scope", data.Scope)
			return nil
		}
		return err
	}

	logger.Info("[Queue] Graph deleted", "graph", data.Name, "scope", data.Scope)
	return nil
}
