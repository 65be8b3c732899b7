package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loomgraph/loom/internal/util"
	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/docstore"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/store"
)

// Build extracts entities and relationships from every document of the
// graph and commits them batch by batch. Each document is one batch:
// its chunks are extracted in parallel, resolved against the entities
// already committed, and applied as a single merge plan. A chunk whose
// extraction keeps failing is skipped with a warning; the build only
// fails when nothing at all could be extracted.
func (b *Builder) Build(
	ctx context.Context,
	scope, name string,
	documentIDs []string,
	prompts common.PromptConfig,
	aiClient ai.Client,
	docs docstore.DocumentStore,
	graphs store.GraphStore,
) error {
	logger.Info("[Build] Processing", "graph", name, "documents", len(documentIDs))

	totalChunks := 0
	extractedChunks := 0

	for _, documentID := range documentIDs {
		chunks, err := docs.GetChunks(ctx, documentID)
		if err != nil {
			return fmt.Errorf("failed to load chunks for document %s: %w", documentID, err)
		}
		if len(chunks) == 0 {
			logger.Warn("[Build] Document has no chunks", "document", documentID)
			continue
		}
		totalChunks += len(chunks)

		extractions := make([]*chunkExtraction, 0, len(chunks))
		mergeMu := sync.Mutex{}

		eg, gCtx := errgroup.WithContext(ctx)
		eg.SetLimit(b.parallelChunks)
		for _, chunk := range chunks {
			c := chunk
			eg.Go(func() error {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				ext, err := util.RetryWithContext(gCtx, b.maxRetries, func(ctx context.Context) (*chunkExtraction, error) {
					return b.extractFromChunk(ctx, c, prompts, aiClient)
				})
				if err != nil {
					if gCtx.Err() != nil {
						return gCtx.Err()
					}
					logger.Warn("[Build] Skipping chunk after repeated extraction failures",
						"document", c.DocumentID, "chunk", c.Index, "err", err)
					return nil
				}

				mergeMu.Lock()
				extractions = append(extractions, ext)
				mergeMu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		extractedChunks += len(extractions)
		if len(extractions) == 0 {
			continue
		}

		existing, err := graphs.Entities(ctx, scope, name)
		if err != nil {
			return fmt.Errorf("failed to load graph entities: %w", err)
		}

		plan, err := b.resolve(ctx, existing, extractions, prompts, aiClient)
		if err != nil {
			return fmt.Errorf("failed to resolve document %s: %w", documentID, err)
		}
		if plan.Empty() {
			logger.Debug("[Build] Document produced an empty merge plan", "document", documentID)
			continue
		}

		if err := graphs.ApplyMergePlan(ctx, scope, name, plan); err != nil {
			return fmt.Errorf("failed to commit document %s: %w", documentID, err)
		}
		logger.Info("[Build] Document committed",
			"document", documentID, "new", len(plan.New), "merges", len(plan.Merges), "relationships", len(plan.Relationships))
	}

	if totalChunks > 0 && extractedChunks == 0 {
		return fmt.Errorf("no chunk could be extracted: %w", common.ErrExtraction)
	}

	if err := b.embedEntities(ctx, scope, name, aiClient, graphs); err != nil {
		// Embeddings only improve similarity ranking; the graph is
		// complete without them.
		logger.Warn("[Build] Embedding generation failed", "graph", name, "err", err)
	}

	logger.Info("[Build] Graph build completed", "graph", name)
	return nil
}

func (b *Builder) embedEntities(
	ctx context.Context,
	scope, name string,
	aiClient ai.Client,
	graphs store.GraphStore,
) error {
	entities, err := graphs.Entities(ctx, scope, name)
	if err != nil {
		return err
	}

	vectors := make(map[string][]float32)
	vecMu := sync.Mutex{}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.parallelChunks)
	for i := range entities {
		e := entities[i]
		if len(e.Embedding) > 0 {
			continue
		}
		eg.Go(func() error {
			vec, err := util.RetryWithContext(gCtx, b.maxRetries, func(ctx context.Context) ([]float32, error) {
				return aiClient.GenerateEmbedding(ctx, []byte(e.Label+" ("+e.Type+")"))
			})
			if err != nil {
				logger.Warn("[Build] Skipping embedding for entity", "entity", e.Label, "err", err)
				return nil
			}
			vecMu.Lock()
			vectors[e.ID] = vec
			vecMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	return graphs.SaveEmbeddings(ctx, scope, name, vectors)
}
