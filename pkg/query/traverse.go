package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomgraph/loom/pkg/common"
)

// adjacency builds the undirected neighbor map of the graph, indexed
// by entity ID. Neighbor lists are ordered by insertion order so
// traversal results are deterministic.
func adjacency(g *common.Graph) map[string][]string {
	seqOf := make(map[string]int, len(g.Entities))
	for i := range g.Entities {
		seqOf[g.Entities[i].ID] = g.Entities[i].Seq
	}

	neighbors := make(map[string]map[string]bool)
	link := func(a, b string) {
		if neighbors[a] == nil {
			neighbors[a] = make(map[string]bool)
		}
		neighbors[a][b] = true
	}
	for _, r := range g.Relationships {
		link(r.SourceID, r.TargetID)
		link(r.TargetID, r.SourceID)
	}

	adj := make(map[string][]string, len(neighbors))
	for id, set := range neighbors {
		list := make([]string, 0, len(set))
		for n := range set {
			list = append(list, n)
		}
		sort.Slice(list, func(i, j int) bool { return seqOf[list[i]] < seqOf[list[j]] })
		adj[id] = list
	}
	return adj
}

// Paths enumerates all simple paths between two entities within
// maxDepth hops, traversing relationships in either direction. Each
// path is the ordered list of entity labels from source to target. No
// connecting path is an empty result, not an error.
func (e *Engine) Paths(ctx context.Context, scope, name, from, to string, maxDepth *int) ([][]string, error) {
	depth, err := NormalizeDepth(maxDepth)
	if err != nil {
		return nil, err
	}

	g, err := e.loadReady(ctx, scope, name)
	if err != nil {
		return nil, err
	}

	fromIdx, err := resolveRef(g, from)
	if err != nil {
		return nil, err
	}
	toIdx, err := resolveRef(g, to)
	if err != nil {
		return nil, err
	}

	fromID := g.Entities[fromIdx].ID
	toID := g.Entities[toIdx].ID
	if fromID == toID {
		return [][]string{{g.Entities[fromIdx].Label}}, nil
	}
	// Zero hops can only connect an entity to itself.
	if depth == 0 {
		return nil, fmt.Errorf("%w: max_depth 0 is only valid when both nodes are the same", common.ErrValidation)
	}

	labelOf := make(map[string]string, len(g.Entities))
	for i := range g.Entities {
		labelOf[g.Entities[i].ID] = g.Entities[i].Label
	}
	adj := adjacency(g)

	paths := make([][]string, 0)
	onPath := map[string]bool{fromID: true}
	trail := []string{fromID}

	var walk func(current string)
	walk = func(current string) {
		if len(trail)-1 >= depth {
			return
		}
		for _, next := range adj[current] {
			if onPath[next] {
				continue
			}
			if next == toID {
				path := make([]string, 0, len(trail)+1)
				for _, id := range trail {
					path = append(path, labelOf[id])
				}
				paths = append(paths, append(path, labelOf[toID]))
				continue
			}
			onPath[next] = true
			trail = append(trail, next)
			walk(next)
			trail = trail[:len(trail)-1]
			delete(onPath, next)
		}
	}
	walk(fromID)

	return paths, nil
}

// Subgraph expands outward from a focus entity to maxDepth hops and
// returns the visited entities plus every relationship connecting two
// of them. Depth 0 returns only the focus entity.
func (e *Engine) Subgraph(ctx context.Context, scope, name, ref string, maxDepth *int) (*SubgraphResult, error) {
	depth, err := NormalizeDepth(maxDepth)
	if err != nil {
		return nil, err
	}

	g, err := e.loadReady(ctx, scope, name)
	if err != nil {
		return nil, err
	}

	focusIdx, err := resolveRef(g, ref)
	if err != nil {
		return nil, err
	}
	focusID := g.Entities[focusIdx].ID

	entityOf := make(map[string]common.Entity, len(g.Entities))
	for i := range g.Entities {
		entityOf[g.Entities[i].ID] = g.Entities[i]
	}
	adj := adjacency(g)

	visited := map[string]bool{focusID: true}
	orderedIDs := []string{focusID}
	frontier := []string{focusID}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, n := range adj[id] {
				if visited[n] {
					continue
				}
				visited[n] = true
				orderedIDs = append(orderedIDs, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	result := &SubgraphResult{
		Entities:      make([]common.Entity, 0, len(orderedIDs)),
		Relationships: make([]common.Relationship, 0),
	}
	for _, id := range orderedIDs {
		result.Entities = append(result.Entities, entityOf[id])
	}
	if depth > 0 {
		for _, r := range g.Relationships {
			if visited[r.SourceID] && visited[r.TargetID] {
				result.Relationships = append(result.Relationships, r)
			}
		}
	}
	return result, nil
}
