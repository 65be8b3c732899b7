// Package query implements the four read operations over a completed
// knowledge graph: entity listing by similarity, point lookup, simple
// path enumeration, and local subgraph expansion. Queries are read-only
// and operate on a snapshot loaded from the store.
package query

import (
	"context"
	"fmt"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/store"
)

const (
	// DefaultMaxDepth is used when a traversal query omits max_depth.
	DefaultMaxDepth = 3
	// MaxDepthCap bounds traversal depth for any query.
	MaxDepthCap = 10

	// confidenceFloor is the minimum label similarity for resolving a
	// query reference to an entity.
	confidenceFloor = 0.5
)

// Engine executes queries against graphs held in a GraphStore. The AI
// client is optional; when present, list queries rank by embedding
// similarity where vectors are available.
type Engine struct {
	graphs   store.GraphStore
	aiClient ai.Client
}

type Params struct {
	Graphs   store.GraphStore
	AIClient ai.Client
}

// New creates a query engine bound to a graph store.
func New(params Params) *Engine {
	return &Engine{graphs: params.Graphs, aiClient: params.AIClient}
}

// EntityMatch is one ranked result of a list query.
type EntityMatch struct {
	Entity common.Entity `json:"entity"`
	Score  float64       `json:"score"`
}

// EntityResult is a point lookup result: the entity and every
// relationship it participates in.
type EntityResult struct {
	Entity        common.Entity         `json:"entity"`
	Relationships []common.Relationship `json:"relationships"`
}

// SubgraphResult is the induced neighborhood around a focus entity.
type SubgraphResult struct {
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
}

// loadReady fetches the graph and rejects queries against graphs that
// have not completed building.
func (e *Engine) loadReady(ctx context.Context, scope, name string) (*common.Graph, error) {
	g, err := e.graphs.Get(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	if g.Status != common.StatusCompleted {
		return nil, fmt.Errorf("graph %q is %s: %w", name, g.Status, common.ErrGraphNotReady)
	}
	return g, nil
}

// NormalizeDepth validates a traversal depth, applying the default for
// unset values. Negative depths and depths beyond the cap are invalid.
func NormalizeDepth(maxDepth *int) (int, error) {
	if maxDepth == nil {
		return DefaultMaxDepth, nil
	}
	d := *maxDepth
	if d < 0 {
		return 0, fmt.Errorf("%w: max_depth must not be negative", common.ErrValidation)
	}
	if d > MaxDepthCap {
		return 0, fmt.Errorf("%w: max_depth must not exceed %d", common.ErrValidation, MaxDepthCap)
	}
	return d, nil
}

// resolveRef resolves an entity reference to an index in g.Entities:
// exact ID match first, then the best label match at or above the
// confidence floor. Ties go to the earliest-created entity.
func resolveRef(g *common.Graph, ref string) (int, error) {
	for i := range g.Entities {
		if g.Entities[i].ID == ref {
			return i, nil
		}
	}

	best := -1
	bestScore := 0.0
	for i := range g.Entities {
		score := lexicalScore(ref, g.Entities[i].Label)
		if score > bestScore || (score == bestScore && best >= 0 && g.Entities[i].Seq < g.Entities[best].Seq) {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore < confidenceFloor {
		return -1, fmt.Errorf("entity %q: %w", ref, common.ErrNotFound)
	}
	return best, nil
}

// ListEntities ranks every entity of the graph by similarity to term,
// highest score first, score ties broken by insertion order.
func (e *Engine) ListEntities(ctx context.Context, scope, name, term string) ([]EntityMatch, error) {
	g, err := e.loadReady(ctx, scope, name)
	if err != nil {
		return nil, err
	}

	var termVec []float32
	if e.aiClient != nil {
		termVec, err = e.aiClient.GenerateEmbedding(ctx, []byte(term))
		if err != nil {
			// Lexical ranking still works without the vector.
			termVec = nil
		}
	}

	// Cosine and lexical scores live on different scales, so one
	// ranking never mixes them: vectors are used only when the term
	// vector and every entity vector exist, lexical scoring otherwise.
	useVectors := len(termVec) > 0 && len(g.Entities) > 0
	for i := range g.Entities {
		if len(g.Entities[i].Embedding) == 0 {
			useVectors = false
			break
		}
	}

	matches := make([]EntityMatch, 0, len(g.Entities))
	for i := range g.Entities {
		ent := g.Entities[i]
		score := lexicalScore(term, ent.Label)
		if useVectors {
			score = cosineSimilarity(termVec, ent.Embedding)
		}
		matches = append(matches, EntityMatch{Entity: ent, Score: score})
	}

	sortMatches(matches)
	return matches, nil
}

// Entity resolves ref to a single entity and returns it together with
// its relationships.
func (e *Engine) Entity(ctx context.Context, scope, name, ref string) (*EntityResult, error) {
	g, err := e.loadReady(ctx, scope, name)
	if err != nil {
		return nil, err
	}

	idx, err := resolveRef(g, ref)
	if err != nil {
		return nil, err
	}
	ent := g.Entities[idx]

	rels := make([]common.Relationship, 0)
	for _, r := range g.Relationships {
		if r.SourceID == ent.ID || r.TargetID == ent.ID {
			rels = append(rels, r)
		}
	}
	return &EntityResult{Entity: ent, Relationships: rels}, nil
}
