package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loomgraph/loom/internal/util"
	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/docstore"
	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/leaselock"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/store"
)

// Deps bundles everything a job handler needs. Locks is nil when the
// store is in-process; its own commit serialization is enough then.
type Deps struct {
	AIClient ai.Client
	Docs     docstore.DocumentStore
	Graphs   store.GraphStore
	Builder  *graph.Builder
	Locks    *leaselock.Client
}

// ProcessGraphJob handles one build or update job. The job claims the
// graph by moving it to processing; from that point every failure is
// recorded on the graph itself and the message is considered handled.
// Stale messages (graph deleted, graph no longer queued) are dropped.
func ProcessGraphJob(ctx context.Context, deps Deps, msg string) error {
	data := new(GraphJobMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}

	err := deps.Graphs.Transition(ctx, data.Scope, data.Name, common.StatusProcessing, "")
	if err != nil {
		if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrInvalidTransition) {
			logger.Warn("[Queue] Dropping stale graph job", "graph", data.Name, "scope", data.Scope, "err", err)
			return nil
		}
		return err
	}

	g, err := deps.Graphs.Get(ctx, data.Scope, data.Name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.Warn("[Queue] Graph deleted while claiming job", "graph", data.Name, "scope", data.Scope)
			return nil
		}
		markFailed(deps, data, err)
		return nil
	}

	// An update with nothing new is an idempotent success.
	if data.Operation == OperationUpdate && len(data.DocumentIDs) == 0 {
		logger.Info("[Queue] Update matched no new documents", "graph", data.Name)
		if err := deps.Graphs.Transition(ctx, data.Scope, data.Name, common.StatusCompleted, ""); err != nil {
			logger.Error("[Queue] Failed to complete no-op update", "graph", data.Name, "err", err)
		}
		return nil
	}

	documentIDs := data.DocumentIDs
	if len(documentIDs) == 0 {
		documentIDs = g.DocumentIDs
	}

	timeout := buildTimeout()
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := func(runCtx context.Context) error {
		return deps.Builder.Build(runCtx, data.Scope, data.Name, documentIDs, g.Prompts, deps.AIClient, deps.Docs, deps.Graphs)
	}

	if deps.Locks != nil {
		key := leaselock.GraphKey(data.Scope, data.Name)
		logger.Debug("[Queue] Acquiring graph lease", "key", key)
		err = deps.Locks.WithLease(buildCtx, key, leaselock.Options{
			TTL:        10 * time.Minute,
			RenewEvery: 4 * time.Minute,
			Wait:       true,
		}, run)
	} else {
		err = run(buildCtx)
	}

	if err != nil {
		if buildCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("build exceeded %s ceiling: %w", timeout, common.ErrBuildTimeout)
		}
		logger.Error("[Queue] Graph build failed", "graph", data.Name, "err", err)
		markFailed(deps, data, err)
		return nil
	}

	if err := deps.Graphs.Transition(ctx, data.Scope, data.Name, common.StatusCompleted, ""); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.Warn("[Queue] Graph deleted during build", "graph", data.Name)
			return nil
		}
		logger.Error("[Queue] Failed to mark graph as completed", "graph", data.Name, "err", err)
		return nil
	}

	logger.Info("[Queue] Graph job completed", "graph", data.Name, "operation", data.Operation)
	return nil
}

// buildTimeout reads the wall-clock ceiling from GRAPH_BUILD_TIMEOUT_MIN.
// Fractional minutes are respected; non-positive or unparseable values
// fall back to the default instead of producing an instantly expired
// context.
func buildTimeout() time.Duration {
	minutes := util.GetEnvNumeric("GRAPH_BUILD_TIMEOUT_MIN", 30)
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes * float64(time.Minute))
}

// markFailed records a build failure on the graph. It runs on a fresh
// context so a cancelled job context cannot block the status write.
func markFailed(deps Deps, data *GraphJobMsg, buildErr error) {
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := deps.Graphs.Transition(updateCtx, data.Scope, data.Name, common.StatusFailed, buildErr.Error()); err != nil {
		logger.Error("[Queue] Failed to mark graph as failed", "graph", data.Name, "err", err)
	}
}
