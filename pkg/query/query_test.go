package query

import (
	"context"
	"errors"
	"testing"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/store"
	storemem "github.com/loomgraph/loom/pkg/store/memory"
)

// embedAI serves a fixed term embedding for ranking tests.
type embedAI struct {
	vec []float32
}

func (s *embedAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (s *embedAI) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return nil
}

func (s *embedAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return s.vec, nil
}

func (s *embedAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }
func (s *embedAI) ResetMetrics()               {}

type edge struct{ src, tgt, typ string }

// buildGraph commits a small completed graph and returns an engine
// bound to it. Entity keys are their labels.
func buildGraph(t *testing.T, entities [][2]string, edges []edge) (*Engine, *storemem.Store) {
	t.Helper()
	ctx := context.Background()
	s := storemem.New()
	if _, err := s.Create(ctx, "tenant-a", "g", nil, common.PromptConfig{}); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}

	plan := store.MergePlan{}
	for _, e := range entities {
		plan.New = append(plan.New, store.PlannedEntity{Key: e[0], Label: e[0], Type: e[1]})
	}
	for _, e := range edges {
		plan.Relationships = append(plan.Relationships, store.PlannedRelationship{
			Source: store.EntityRef{Key: e.src},
			Target: store.EntityRef{Key: e.tgt},
			Type:   e.typ,
		})
	}
	if err := s.ApplyMergePlan(ctx, "tenant-a", "g", plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}
	for _, st := range []common.GraphStatus{common.StatusProcessing, common.StatusCompleted} {
		if err := s.Transition(ctx, "tenant-a", "g", st, ""); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
	}
	return New(Params{Graphs: s}), s
}

func depthPtr(d int) *int { return &d }

func TestLexicalScore(t *testing.T) {
	tests := []struct {
		name  string
		term  string
		label string
		want  float64
	}{
		{name: "exact", term: "BERT", label: "BERT", want: 1.0},
		{name: "case insensitive exact", term: "bert", label: "BERT", want: 1.0},
		{name: "prefix", term: "Trans", label: "Transformer", want: 0.9},
		{name: "substring", term: "former", label: "Transformer", want: 0.75},
		{name: "no overlap", term: "BERT", label: "Healthcare", want: 0},
		{name: "empty term", term: "", label: "BERT", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lexicalScore(tt.term, tt.label); got != tt.want {
				t.Fatalf("lexicalScore(%q, %q) = %v, want %v", tt.term, tt.label, got, tt.want)
			}
		})
	}

	// Token overlap ranks below any substring match.
	got := lexicalScore("deep neural network", "neural language")
	if got <= 0 || got >= 0.75 {
		t.Fatalf("token overlap score out of range: %v", got)
	}
}

func TestListEntitiesScoreScale(t *testing.T) {
	ctx := context.Background()
	_, s := buildGraph(t, [][2]string{
		{"Alpha", "Model"},
		{"Beta", "Model"},
	}, nil)

	ids := map[string]string{}
	ents, err := s.Entities(ctx, "tenant-a", "g")
	if err != nil {
		t.Fatalf("failed to load entities: %v", err)
	}
	for _, ent := range ents {
		ids[ent.Label] = ent.ID
	}

	// While any entity lacks a vector the whole set ranks lexically,
	// so a cosine score cannot outrank a prefix match.
	if err := s.SaveEmbeddings(ctx, "tenant-a", "g", map[string][]float32{ids["Beta"]: {1, 0}}); err != nil {
		t.Fatalf("failed to save embeddings: %v", err)
	}
	e := New(Params{Graphs: s, AIClient: &embedAI{vec: []float32{1, 0}}})
	matches, err := e.ListEntities(ctx, "tenant-a", "g", "Alph")
	if err != nil {
		t.Fatalf("list query failed: %v", err)
	}
	if matches[0].Entity.Label != "Alpha" {
		t.Fatalf("expected lexical ranking with partial vectors, got %q first", matches[0].Entity.Label)
	}

	// Once every entity carries a vector the ranking is cosine only.
	if err := s.SaveEmbeddings(ctx, "tenant-a", "g", map[string][]float32{ids["Alpha"]: {0, 1}}); err != nil {
		t.Fatalf("failed to save embeddings: %v", err)
	}
	matches, err = e.ListEntities(ctx, "tenant-a", "g", "Alph")
	if err != nil {
		t.Fatalf("list query failed: %v", err)
	}
	if matches[0].Entity.Label != "Beta" {
		t.Fatalf("expected cosine ranking with full vectors, got %q first", matches[0].Entity.Label)
	}
}

func TestListEntities(t *testing.T) {
	e, _ := buildGraph(t, [][2]string{
		{"BERT", "Model"},
		{"BERT Large", "Model"},
		{"Healthcare", "Domain"},
	}, nil)

	matches, err := e.ListEntities(context.Background(), "tenant-a", "g", "BERT")
	if err != nil {
		t.Fatalf("list query failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected every entity ranked, got %d", len(matches))
	}
	if matches[0].Entity.Label != "BERT" || matches[0].Score != 1.0 {
		t.Fatalf("expected exact match first, got %q (%v)", matches[0].Entity.Label, matches[0].Score)
	}
	if matches[1].Entity.Label != "BERT Large" {
		t.Fatalf("expected prefix match second, got %q", matches[1].Entity.Label)
	}
	if matches[2].Score != 0 {
		t.Fatalf("expected unrelated entity scored 0, got %v", matches[2].Score)
	}
}

func TestListEntitiesTieBreak(t *testing.T) {
	e, _ := buildGraph(t, [][2]string{
		{"Alpha", "Concept"},
		{"Beta", "Concept"},
		{"Gamma", "Concept"},
	}, nil)

	// All score 0 against an unrelated term; insertion order decides.
	matches, err := e.ListEntities(context.Background(), "tenant-a", "g", "zzz")
	if err != nil {
		t.Fatalf("list query failed: %v", err)
	}
	want := []string{"Alpha", "Beta", "Gamma"}
	for i, w := range want {
		if matches[i].Entity.Label != w {
			t.Fatalf("expected insertion order on ties, got %q at %d", matches[i].Entity.Label, i)
		}
	}
}

func TestQueryNotReady(t *testing.T) {
	ctx := context.Background()
	s := storemem.New()
	if _, err := s.Create(ctx, "tenant-a", "g", nil, common.PromptConfig{}); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	e := New(Params{Graphs: s})

	if _, err := e.ListEntities(ctx, "tenant-a", "g", "BERT"); !errors.Is(err, common.ErrGraphNotReady) {
		t.Fatalf("expected ErrGraphNotReady for queued graph, got %v", err)
	}
	if _, err := e.ListEntities(ctx, "tenant-a", "missing", "BERT"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown graph, got %v", err)
	}
}

func TestEntity(t *testing.T) {
	ctx := context.Background()
	e, s := buildGraph(t, [][2]string{
		{"BERT", "Model"},
		{"Google", "Organization"},
	}, []edge{{src: "Google", tgt: "BERT", typ: "developed"}})

	res, err := e.Entity(ctx, "tenant-a", "g", "bert")
	if err != nil {
		t.Fatalf("entity query failed: %v", err)
	}
	if res.Entity.Label != "BERT" {
		t.Fatalf("expected BERT, got %q", res.Entity.Label)
	}
	if len(res.Relationships) != 1 || res.Relationships[0].Type != "developed" {
		t.Fatalf("expected the entity's relationship, got %+v", res.Relationships)
	}

	// Lookup by ID takes precedence over label matching.
	g, _ := s.Get(ctx, "tenant-a", "g")
	byID, err := e.Entity(ctx, "tenant-a", "g", g.Entities[1].ID)
	if err != nil {
		t.Fatalf("entity query by ID failed: %v", err)
	}
	if byID.Entity.Label != "Google" {
		t.Fatalf("expected Google by ID, got %q", byID.Entity.Label)
	}

	if _, err := e.Entity(ctx, "tenant-a", "g", "Quantum Computing"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound below confidence floor, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	// Diamond: A-B-D and A-C-D, plus a direct A-D edge.
	e, _ := buildGraph(t, [][2]string{
		{"A", "Concept"}, {"B", "Concept"}, {"C", "Concept"}, {"D", "Concept"},
	}, []edge{
		{src: "A", tgt: "B", typ: "linked"},
		{src: "B", tgt: "D", typ: "linked"},
		{src: "A", tgt: "C", typ: "linked"},
		{src: "C", tgt: "D", typ: "linked"},
		{src: "D", tgt: "A", typ: "linked"},
	})
	ctx := context.Background()

	paths, err := e.Paths(ctx, "tenant-a", "g", "A", "D", nil)
	if err != nil {
		t.Fatalf("path query failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 simple paths within default depth, got %d: %v", len(paths), paths)
	}
	for _, p := range paths {
		if p[0] != "A" || p[len(p)-1] != "D" {
			t.Fatalf("path endpoints wrong: %v", p)
		}
		if len(p)-1 > DefaultMaxDepth {
			t.Fatalf("path exceeds depth bound: %v", p)
		}
	}

	// Depth 1 keeps only the direct edge, traversed against its
	// declared direction.
	paths, err = e.Paths(ctx, "tenant-a", "g", "A", "D", depthPtr(1))
	if err != nil {
		t.Fatalf("path query failed: %v", err)
	}
	if len(paths) != 1 || len(paths[0]) != 2 {
		t.Fatalf("expected only the direct path at depth 1, got %v", paths)
	}
}

func TestPathsEdgeCases(t *testing.T) {
	e, _ := buildGraph(t, [][2]string{
		{"BERT", "Model"},
		{"Healthcare", "Domain"},
	}, nil)
	ctx := context.Background()

	// Disconnected endpoints yield an empty list, not an error.
	paths, err := e.Paths(ctx, "tenant-a", "g", "BERT", "Healthcare", depthPtr(2))
	if err != nil {
		t.Fatalf("path query failed: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no paths, got %v", paths)
	}

	// Identical endpoints give the trivial path, even at depth 0.
	paths, err = e.Paths(ctx, "tenant-a", "g", "BERT", "BERT", depthPtr(0))
	if err != nil {
		t.Fatalf("path query failed: %v", err)
	}
	if len(paths) != 1 || len(paths[0]) != 1 || paths[0][0] != "BERT" {
		t.Fatalf("expected trivial path, got %v", paths)
	}

	if _, err := e.Paths(ctx, "tenant-a", "g", "BERT", "Healthcare", depthPtr(0)); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for depth 0 with distinct nodes, got %v", err)
	}
	if _, err := e.Paths(ctx, "tenant-a", "g", "BERT", "Healthcare", depthPtr(11)); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation beyond depth cap, got %v", err)
	}
	if _, err := e.Paths(ctx, "tenant-a", "g", "BERT", "Healthcare", depthPtr(-1)); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative depth, got %v", err)
	}
	if _, err := e.Paths(ctx, "tenant-a", "g", "BERT", "Ghost", nil); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown endpoint, got %v", err)
	}
}

func TestSubgraph(t *testing.T) {
	// Chain: AI - ML - DL - CNN
	e, _ := buildGraph(t, [][2]string{
		{"AI", "Concept"}, {"ML", "Concept"}, {"DL", "Concept"}, {"CNN", "Concept"},
	}, []edge{
		{src: "AI", tgt: "ML", typ: "includes"},
		{src: "ML", tgt: "DL", typ: "includes"},
		{src: "DL", tgt: "CNN", typ: "includes"},
	})
	ctx := context.Background()

	res, err := e.Subgraph(ctx, "tenant-a", "g", "AI", depthPtr(2))
	if err != nil {
		t.Fatalf("subgraph query failed: %v", err)
	}
	if len(res.Entities) != 3 {
		t.Fatalf("expected AI, ML, DL at depth 2, got %d entities", len(res.Entities))
	}
	if res.Entities[0].Label != "AI" {
		t.Fatalf("expected focus entity first, got %q", res.Entities[0].Label)
	}
	if len(res.Relationships) != 2 {
		t.Fatalf("expected the 2 induced relationships, got %d", len(res.Relationships))
	}

	// Depth 0 returns only the focus entity.
	res, err = e.Subgraph(ctx, "tenant-a", "g", "AI", depthPtr(0))
	if err != nil {
		t.Fatalf("subgraph query failed: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Label != "AI" || len(res.Relationships) != 0 {
		t.Fatalf("expected focus-only result at depth 0, got %+v", res)
	}

	// Default depth reaches the whole chain.
	res, err = e.Subgraph(ctx, "tenant-a", "g", "AI", nil)
	if err != nil {
		t.Fatalf("subgraph query failed: %v", err)
	}
	if len(res.Entities) != 4 || len(res.Relationships) != 3 {
		t.Fatalf("expected full chain at default depth, got %d entities, %d relationships", len(res.Entities), len(res.Relationships))
	}

	if _, err := e.Subgraph(ctx, "tenant-a", "g", "Ghost", nil); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown focus, got %v", err)
	}
}
