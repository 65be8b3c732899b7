// Package memory provides the in-process GraphStore used by tests and
// single-node deployments. All reads return deep copies so a snapshot
// handed to the query engine can never observe a later commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/store"
)

type graphRec struct {
	mu      sync.Mutex
	deleted bool
	seq     int
	graph   common.Graph
}

// Store implements store.GraphStore in memory.
type Store struct {
	mu     sync.RWMutex
	graphs map[string]*graphRec
}

// New creates an empty in-memory graph store.
func New() *Store {
	return &Store{graphs: make(map[string]*graphRec)}
}

func key(scope, name string) string {
	return scope + "/" + name
}

func (s *Store) Create(ctx context.Context, scope, name string, documentIDs []string, prompts common.PromptConfig) (*common.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(scope, name)
	if _, ok := s.graphs[k]; ok {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	rec := &graphRec{
		graph: common.Graph{
			Scope:       scope,
			Name:        name,
			DocumentIDs: slices.Clone(documentIDs),
			Status:      common.StatusQueued,
			Prompts:     prompts,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	s.graphs[k] = rec

	g := copyGraph(&rec.graph)
	return &g, nil
}

func (s *Store) find(scope, name string) (*graphRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.graphs[key(scope, name)]
	if !ok {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, scope, name string) (*common.Graph, error) {
	rec, err := s.find(scope, name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	g := copyGraph(&rec.graph)
	return &g, nil
}

func (s *Store) ListNames(ctx context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0)
	for _, rec := range s.graphs {
		if rec.graph.Scope == scope {
			names = append(names, rec.graph.Name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Delete(ctx context.Context, scope, name string) error {
	rec, err := s.find(scope, name)
	if err != nil {
		return err
	}

	// Waiting on the commit lock lets an in-flight commit finish before
	// the graph disappears; its next commit fails with ErrNotFound.
	rec.mu.Lock()
	if rec.deleted {
		rec.mu.Unlock()
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	rec.deleted = true
	rec.mu.Unlock()

	s.mu.Lock()
	delete(s.graphs, key(scope, name))
	s.mu.Unlock()
	return nil
}

func (s *Store) Entities(ctx context.Context, scope, name string) ([]common.Entity, error) {
	rec, err := s.find(scope, name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}

	out := make([]common.Entity, len(rec.graph.Entities))
	for i := range rec.graph.Entities {
		out[i] = copyEntity(&rec.graph.Entities[i])
	}
	return out, nil
}

func identityKey(label, typ string) string {
	return strings.ToLower(ai.NormalizeLabel(label)) + "|" + strings.ToLower(ai.NormalizeLabel(typ))
}

func (s *Store) ApplyMergePlan(ctx context.Context, scope, name string, plan store.MergePlan) error {
	rec, err := s.find(scope, name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}

	g := &rec.graph

	byID := make(map[string]*common.Entity, len(g.Entities))
	byIdentity := make(map[string]*common.Entity, len(g.Entities))
	for i := range g.Entities {
		e := &g.Entities[i]
		byID[e.ID] = e
		byIdentity[identityKey(e.Label, e.Type)] = e
	}

	// Validate everything before mutating anything.
	planKeys := make(map[string]store.PlannedEntity, len(plan.New))
	for _, pe := range plan.New {
		if pe.Key == "" {
			return fmt.Errorf("planned entity %q has no key: %w", pe.Label, common.ErrIntegrity)
		}
		if _, dup := planKeys[pe.Key]; dup {
			return fmt.Errorf("duplicate plan key %q: %w", pe.Key, common.ErrIntegrity)
		}
		planKeys[pe.Key] = pe
	}
	for _, m := range plan.Merges {
		if _, ok := byID[m.EntityID]; !ok {
			return fmt.Errorf("merge references unknown entity %q: %w", m.EntityID, common.ErrIntegrity)
		}
	}
	for _, r := range plan.Relationships {
		for _, ref := range []store.EntityRef{r.Source, r.Target} {
			switch {
			case ref.ID != "":
				if _, ok := byID[ref.ID]; !ok {
					return fmt.Errorf("relationship references unknown entity %q: %w", ref.ID, common.ErrIntegrity)
				}
			case ref.Key != "":
				if _, ok := planKeys[ref.Key]; !ok {
					return fmt.Errorf("relationship references unknown plan key %q: %w", ref.Key, common.ErrIntegrity)
				}
			default:
				return fmt.Errorf("relationship endpoint is empty: %w", common.ErrIntegrity)
			}
		}
	}

	// Admit new entities. A planned entity that duplicates an existing
	// one under the default identity rule is folded in instead of
	// admitted twice; the store never holds duplicates.
	keyToID := make(map[string]string, len(plan.New))
	for _, pe := range plan.New {
		if existing, dup := byIdentity[identityKey(pe.Label, pe.Type)]; dup {
			existing.DocumentIDs = appendMissing(existing.DocumentIDs, pe.DocumentIDs)
			keyToID[pe.Key] = existing.ID
			continue
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate entity ID: %w", err)
		}
		rec.seq++
		g.Entities = append(g.Entities, common.Entity{
			ID:          id,
			Label:       pe.Label,
			Type:        pe.Type,
			Properties:  copyProperties(pe.Properties),
			DocumentIDs: slices.Clone(pe.DocumentIDs),
			Seq:         rec.seq,
		})
		keyToID[pe.Key] = id

		e := &g.Entities[len(g.Entities)-1]
		byID[id] = e
		byIdentity[identityKey(pe.Label, pe.Type)] = e
	}

	for _, m := range plan.Merges {
		e := byID[m.EntityID]
		e.DocumentIDs = appendMissing(e.DocumentIDs, m.DocumentIDs)
	}

	resolveRef := func(ref store.EntityRef) string {
		if ref.ID != "" {
			return ref.ID
		}
		return keyToID[ref.Key]
	}

	for _, r := range plan.Relationships {
		srcID := resolveRef(r.Source)
		tgtID := resolveRef(r.Target)

		merged := false
		for i := range g.Relationships {
			ex := &g.Relationships[i]
			if ex.SourceID == srcID && ex.TargetID == tgtID && ex.Type == r.Type {
				ex.DocumentIDs = appendMissing(ex.DocumentIDs, r.DocumentIDs)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate relationship ID: %w", err)
		}
		g.Relationships = append(g.Relationships, common.Relationship{
			ID:          id,
			SourceID:    srcID,
			TargetID:    tgtID,
			Type:        r.Type,
			DocumentIDs: slices.Clone(r.DocumentIDs),
		})
	}

	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SaveEmbeddings(ctx context.Context, scope, name string, vectors map[string][]float32) error {
	rec, err := s.find(scope, name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}

	for i := range rec.graph.Entities {
		if vec, ok := vectors[rec.graph.Entities[i].ID]; ok {
			rec.graph.Entities[i].Embedding = slices.Clone(vec)
		}
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, scope, name string, status common.GraphStatus, buildErr string) error {
	rec, err := s.find(scope, name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}

	if !rec.graph.Status.CanTransition(status) {
		return fmt.Errorf("cannot move graph %q from %s to %s: %w", name, rec.graph.Status, status, common.ErrInvalidTransition)
	}
	rec.graph.Status = status
	rec.graph.Error = ""
	if status == common.StatusFailed {
		rec.graph.Error = buildErr
	}
	rec.graph.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Requeue(ctx context.Context, scope, name string, addDocumentIDs []string, prompts *common.PromptConfig) error {
	rec, err := s.find(scope, name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}

	if !rec.graph.Status.Terminal() {
		return fmt.Errorf("graph %q is %s: %w", name, rec.graph.Status, common.ErrConcurrentBuild)
	}
	rec.graph.Status = common.StatusQueued
	rec.graph.Error = ""
	rec.graph.DocumentIDs = appendMissing(rec.graph.DocumentIDs, addDocumentIDs)
	if prompts != nil {
		rec.graph.Prompts = *prompts
	}
	rec.graph.UpdatedAt = time.Now().UTC()
	return nil
}

func appendMissing(existing, add []string) []string {
	for _, id := range add {
		if !slices.Contains(existing, id) {
			existing = append(existing, id)
		}
	}
	return existing
}

func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func copyEntity(e *common.Entity) common.Entity {
	out := *e
	out.Properties = copyProperties(e.Properties)
	out.DocumentIDs = slices.Clone(e.DocumentIDs)
	out.Embedding = slices.Clone(e.Embedding)
	return out
}

func copyGraph(g *common.Graph) common.Graph {
	out := *g
	out.DocumentIDs = slices.Clone(g.DocumentIDs)
	out.Entities = make([]common.Entity, len(g.Entities))
	for i := range g.Entities {
		out.Entities[i] = copyEntity(&g.Entities[i])
	}
	out.Relationships = make([]common.Relationship, len(g.Relationships))
	for i := range g.Relationships {
		r := g.Relationships[i]
		r.DocumentIDs = slices.Clone(g.Relationships[i].DocumentIDs)
		out.Relationships[i] = r
	}
	return out
}
