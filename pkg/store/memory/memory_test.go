package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/store"
)

func newTestGraph(t *testing.T, s *Store) (string, string) {
	t.Helper()
	scope, name := "tenant-a", "papers"
	if _, err := s.Create(context.Background(), scope, name, []string{"doc-1"}, common.PromptConfig{}); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	return scope, name
}

func TestCreateDuplicate(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)

	if _, err := s.Create(context.Background(), scope, name, nil, common.PromptConfig{}); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Same name in another scope is a distinct graph.
	if _, err := s.Create(context.Background(), "tenant-b", name, nil, common.PromptConfig{}); err != nil {
		t.Fatalf("expected create in other scope to succeed, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)

	plan := store.MergePlan{New: []store.PlannedEntity{
		{Key: "e1", Label: "BERT", Type: "Model", DocumentIDs: []string{"doc-1"}},
	}}
	if err := s.ApplyMergePlan(context.Background(), scope, name, plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}

	g, err := s.Get(context.Background(), scope, name)
	if err != nil {
		t.Fatalf("failed to get graph: %v", err)
	}
	g.Entities[0].Label = "mutated"
	g.DocumentIDs = append(g.DocumentIDs, "doc-x")

	g2, _ := s.Get(context.Background(), scope, name)
	if g2.Entities[0].Label != "BERT" {
		t.Fatalf("mutation of returned graph leaked into store: %q", g2.Entities[0].Label)
	}
	if len(g2.DocumentIDs) != 1 {
		t.Fatalf("expected 1 document ID, got %d", len(g2.DocumentIDs))
	}
}

func TestApplyMergePlan(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	plan := store.MergePlan{
		New: []store.PlannedEntity{
			{Key: "a", Label: "BERT", Type: "Model", DocumentIDs: []string{"doc-1"}},
			{Key: "b", Label: "Google", Type: "Organization", DocumentIDs: []string{"doc-1"}},
		},
		Relationships: []store.PlannedRelationship{
			{Source: store.EntityRef{Key: "b"}, Target: store.EntityRef{Key: "a"}, Type: "developed", DocumentIDs: []string{"doc-1"}},
		},
	}
	if err := s.ApplyMergePlan(ctx, scope, name, plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}

	g, _ := s.Get(ctx, scope, name)
	if len(g.Entities) != 2 || len(g.Relationships) != 1 {
		t.Fatalf("expected 2 entities and 1 relationship, got %d and %d", len(g.Entities), len(g.Relationships))
	}
	rel := g.Relationships[0]
	src := g.EntityByID(rel.SourceID)
	tgt := g.EntityByID(rel.TargetID)
	if src == nil || tgt == nil || src.Label != "Google" || tgt.Label != "BERT" {
		t.Fatalf("relationship endpoints resolved incorrectly: %+v", rel)
	}

	// Second batch: merge into an existing entity by ID, add a new one
	// referencing it.
	plan2 := store.MergePlan{
		New: []store.PlannedEntity{
			{Key: "c", Label: "Transformer", Type: "Architecture", DocumentIDs: []string{"doc-2"}},
		},
		Merges: []store.PlannedMerge{
			{EntityID: tgt.ID, DocumentIDs: []string{"doc-2"}},
		},
		Relationships: []store.PlannedRelationship{
			{Source: store.EntityRef{ID: tgt.ID}, Target: store.EntityRef{Key: "c"}, Type: "based_on", DocumentIDs: []string{"doc-2"}},
		},
	}
	if err := s.ApplyMergePlan(ctx, scope, name, plan2); err != nil {
		t.Fatalf("failed to apply second plan: %v", err)
	}

	g, _ = s.Get(ctx, scope, name)
	bert := g.EntityByID(tgt.ID)
	if len(bert.DocumentIDs) != 2 {
		t.Fatalf("expected merged entity to carry 2 document IDs, got %v", bert.DocumentIDs)
	}
	if len(g.Entities) != 3 || len(g.Relationships) != 2 {
		t.Fatalf("expected 3 entities and 2 relationships, got %d and %d", len(g.Entities), len(g.Relationships))
	}
}

func TestApplyMergePlanRejectsDanglingRefs(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	seed := store.MergePlan{New: []store.PlannedEntity{{Key: "a", Label: "BERT", Type: "Model"}}}
	if err := s.ApplyMergePlan(ctx, scope, name, seed); err != nil {
		t.Fatalf("failed to seed graph: %v", err)
	}

	tests := []struct {
		name string
		plan store.MergePlan
	}{
		{
			name: "relationship to unknown ID",
			plan: store.MergePlan{
				New: []store.PlannedEntity{{Key: "x", Label: "GPT", Type: "Model"}},
				Relationships: []store.PlannedRelationship{
					{Source: store.EntityRef{Key: "x"}, Target: store.EntityRef{ID: "missing"}, Type: "related_to"},
				},
			},
		},
		{
			name: "relationship to unknown key",
			plan: store.MergePlan{
				Relationships: []store.PlannedRelationship{
					{Source: store.EntityRef{Key: "nope"}, Target: store.EntityRef{Key: "nope"}, Type: "related_to"},
				},
			},
		},
		{
			name: "merge into unknown entity",
			plan: store.MergePlan{
				Merges: []store.PlannedMerge{{EntityID: "missing", DocumentIDs: []string{"doc-9"}}},
			},
		},
		{
			name: "empty endpoint",
			plan: store.MergePlan{
				Relationships: []store.PlannedRelationship{
					{Source: store.EntityRef{}, Target: store.EntityRef{}, Type: "related_to"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ApplyMergePlan(ctx, scope, name, tt.plan); !errors.Is(err, common.ErrIntegrity) {
				t.Fatalf("expected ErrIntegrity, got %v", err)
			}

			// A rejected plan must leave the graph untouched.
			g, _ := s.Get(ctx, scope, name)
			if len(g.Entities) != 1 || len(g.Relationships) != 0 {
				t.Fatalf("rejected plan mutated graph: %d entities, %d relationships", len(g.Entities), len(g.Relationships))
			}
		})
	}
}

func TestApplyMergePlanFoldsDuplicates(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	seed := store.MergePlan{New: []store.PlannedEntity{{Key: "a", Label: "BERT", Type: "Model", DocumentIDs: []string{"doc-1"}}}}
	if err := s.ApplyMergePlan(ctx, scope, name, seed); err != nil {
		t.Fatalf("failed to seed graph: %v", err)
	}

	// Same label under case and whitespace variation folds into the
	// existing entity; relationships referencing the plan key land on it.
	plan := store.MergePlan{
		New: []store.PlannedEntity{
			{Key: "dup", Label: "  bert ", Type: "model", DocumentIDs: []string{"doc-2"}},
			{Key: "g", Label: "Google", Type: "Organization", DocumentIDs: []string{"doc-2"}},
		},
		Relationships: []store.PlannedRelationship{
			{Source: store.EntityRef{Key: "g"}, Target: store.EntityRef{Key: "dup"}, Type: "developed", DocumentIDs: []string{"doc-2"}},
		},
	}
	if err := s.ApplyMergePlan(ctx, scope, name, plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}

	g, _ := s.Get(ctx, scope, name)
	if len(g.Entities) != 2 {
		t.Fatalf("expected duplicate to fold, got %d entities", len(g.Entities))
	}
	var bert *common.Entity
	for i := range g.Entities {
		if g.Entities[i].Label == "BERT" {
			bert = &g.Entities[i]
		}
	}
	if bert == nil || len(bert.DocumentIDs) != 2 {
		t.Fatalf("expected folded entity to keep original label and gain provenance: %+v", bert)
	}
	if g.Relationships[0].TargetID != bert.ID {
		t.Fatalf("relationship did not re-point to folded entity")
	}
}

func TestApplyMergePlanDeduplicatesRelationships(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	plan := store.MergePlan{
		New: []store.PlannedEntity{
			{Key: "a", Label: "BERT", Type: "Model"},
			{Key: "b", Label: "Google", Type: "Organization"},
		},
		Relationships: []store.PlannedRelationship{
			{Source: store.EntityRef{Key: "b"}, Target: store.EntityRef{Key: "a"}, Type: "developed", DocumentIDs: []string{"doc-1"}},
		},
	}
	if err := s.ApplyMergePlan(ctx, scope, name, plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}

	g, _ := s.Get(ctx, scope, name)
	srcID, tgtID := g.Relationships[0].SourceID, g.Relationships[0].TargetID

	again := store.MergePlan{
		Relationships: []store.PlannedRelationship{
			{Source: store.EntityRef{ID: srcID}, Target: store.EntityRef{ID: tgtID}, Type: "developed", DocumentIDs: []string{"doc-2"}},
			{Source: store.EntityRef{ID: tgtID}, Target: store.EntityRef{ID: srcID}, Type: "developed", DocumentIDs: []string{"doc-2"}},
		},
	}
	if err := s.ApplyMergePlan(ctx, scope, name, again); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}

	g, _ = s.Get(ctx, scope, name)
	if len(g.Relationships) != 2 {
		t.Fatalf("expected 2 relationships (same edge merged, reverse kept), got %d", len(g.Relationships))
	}
	if len(g.Relationships[0].DocumentIDs) != 2 {
		t.Fatalf("expected merged edge to carry both document IDs, got %v", g.Relationships[0].DocumentIDs)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	tests := []struct {
		name    string
		path    []common.GraphStatus
		illegal common.GraphStatus
	}{
		{name: "completed graph is frozen", path: []common.GraphStatus{common.StatusProcessing, common.StatusCompleted}, illegal: common.StatusProcessing},
		{name: "no skipping to completed", path: nil, illegal: common.StatusCompleted},
		{name: "failed graph is frozen", path: []common.GraphStatus{common.StatusProcessing, common.StatusFailed}, illegal: common.StatusProcessing},
		{name: "no moving back to queued", path: []common.GraphStatus{common.StatusProcessing}, illegal: common.StatusQueued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "g-" + tt.name
			if _, err := s.Create(ctx, "tenant-a", name, nil, common.PromptConfig{}); err != nil {
				t.Fatalf("failed to create graph: %v", err)
			}
			for _, st := range tt.path {
				if err := s.Transition(ctx, "tenant-a", name, st, "boom"); err != nil {
					t.Fatalf("transition to %s failed: %v", st, err)
				}
			}
			if err := s.Transition(ctx, "tenant-a", name, tt.illegal, ""); !errors.Is(err, common.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionRecordsAndClearsError(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	if err := s.Transition(ctx, scope, name, common.StatusProcessing, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.Transition(ctx, scope, name, common.StatusFailed, "extraction failed"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	g, _ := s.Get(ctx, scope, name)
	if g.Error != "extraction failed" {
		t.Fatalf("expected failure message to be recorded, got %q", g.Error)
	}

	if err := s.Requeue(ctx, scope, name, nil, nil); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	g, _ = s.Get(ctx, scope, name)
	if g.Status != common.StatusQueued || g.Error != "" {
		t.Fatalf("expected requeued graph with cleared error, got status=%s error=%q", g.Status, g.Error)
	}
}

func TestRequeue(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	// Requeue of a non-terminal graph is a concurrent-build conflict.
	if err := s.Requeue(ctx, scope, name, []string{"doc-2"}, nil); !errors.Is(err, common.ErrConcurrentBuild) {
		t.Fatalf("expected ErrConcurrentBuild for queued graph, got %v", err)
	}
	if err := s.Transition(ctx, scope, name, common.StatusProcessing, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.Requeue(ctx, scope, name, []string{"doc-2"}, nil); !errors.Is(err, common.ErrConcurrentBuild) {
		t.Fatalf("expected ErrConcurrentBuild for processing graph, got %v", err)
	}
	if err := s.Transition(ctx, scope, name, common.StatusCompleted, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	prompts := &common.PromptConfig{EntityTypes: []string{"Person"}}
	if err := s.Requeue(ctx, scope, name, []string{"doc-2", "doc-1"}, prompts); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	g, _ := s.Get(ctx, scope, name)
	if g.Status != common.StatusQueued {
		t.Fatalf("expected queued status, got %s", g.Status)
	}
	if len(g.DocumentIDs) != 2 {
		t.Fatalf("expected document set {doc-1, doc-2}, got %v", g.DocumentIDs)
	}
	if len(g.Prompts.EntityTypes) != 1 {
		t.Fatalf("expected prompt override to be stored")
	}
}

func TestSaveEmbeddings(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	plan := store.MergePlan{New: []store.PlannedEntity{{Key: "a", Label: "BERT", Type: "Model"}}}
	if err := s.ApplyMergePlan(ctx, scope, name, plan); err != nil {
		t.Fatalf("failed to apply plan: %v", err)
	}
	g, _ := s.Get(ctx, scope, name)
	id := g.Entities[0].ID

	if err := s.SaveEmbeddings(ctx, scope, name, map[string][]float32{id: {0.1, 0.2}, "unknown": {1}}); err != nil {
		t.Fatalf("failed to save embeddings: %v", err)
	}
	g, _ = s.Get(ctx, scope, name)
	if len(g.Entities[0].Embedding) != 2 {
		t.Fatalf("expected embedding to be stored, got %v", g.Entities[0].Embedding)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	scope, name := newTestGraph(t, s)
	ctx := context.Background()

	if err := s.Delete(ctx, scope, name); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, scope, name); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, scope, name); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}

	// The name is free for reuse after deletion.
	if _, err := s.Create(ctx, scope, name, nil, common.PromptConfig{}); err != nil {
		t.Fatalf("expected create after delete to succeed, got %v", err)
	}
}

func TestListNames(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, n := range []string{"zebra", "alpha", "mid"} {
		if _, err := s.Create(ctx, "tenant-a", n, nil, common.PromptConfig{}); err != nil {
			t.Fatalf("failed to create graph: %v", err)
		}
	}
	if _, err := s.Create(ctx, "tenant-b", "other", nil, common.PromptConfig{}); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}

	names, err := s.ListNames(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("failed to list names: %v", err)
	}
	want := []string{"alpha", "mid", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
